package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/54b3r/docchat-go/internal/logging"
)

// authMiddleware requires "Authorization: Bearer <apiKey>" on every request
// it wraps. An empty apiKey disables the check; New warns about that once at
// startup. Tokens are compared in constant time and never logged.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		return next
	}
	want := []byte(apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		switch {
		case !ok:
			logging.FromContext(r.Context()).Warn("auth: missing bearer token",
				slog.String("path", r.URL.Path),
			)
			challenge(w, "", "authorization required")
		case subtle.ConstantTimeCompare([]byte(token), want) != 1:
			logging.FromContext(r.Context()).Warn("auth: invalid token",
				slog.String("path", r.URL.Path),
			)
			challenge(w, "invalid_token", "invalid token")
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// challenge writes a 401 with a Bearer WWW-Authenticate header.
func challenge(w http.ResponseWriter, errCode, msg string) {
	v := `Bearer realm="docchat"`
	if errCode != "" {
		v += ` error="` + errCode + `"`
	}
	w.Header().Set("WWW-Authenticate", v)
	http.Error(w, msg, http.StatusUnauthorized)
}

// bearerToken returns the token of a Bearer Authorization header. The scheme
// is matched case-insensitively; ok is false when the header is absent, uses
// another scheme or carries an empty token.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
