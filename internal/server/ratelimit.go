package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/54b3r/docchat-go/internal/logging"
)

const (
	// defaultRateLimit and defaultRateBurst apply to chat and history.
	defaultRateLimit = 10
	defaultRateBurst = 20

	// Uploads embed every chunk they produce, so they get a much smaller
	// bucket than questions.
	defaultUploadRateLimit = 1
	defaultUploadRateBurst = 5

	// bucketIdle is how long an unused bucket survives before sweep drops it.
	bucketIdle = 5 * time.Minute
)

// Route classes. Each class keeps its own token bucket per client IP, so a
// burst of uploads does not eat into the chat allowance.
const (
	classChat    = "chat"
	classUpload  = "upload"
	classHistory = "history"
)

// bucketPolicy is the token-bucket shape for one route class.
type bucketPolicy struct {
	rps   rate.Limit
	burst int
}

type bucketKey struct {
	class string
	ip    string
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// rateLimiter enforces per-class, per-IP token buckets.
type rateLimiter struct {
	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	policies map[string]bucketPolicy
	// rejected counts 429 responses by class. Nil disables counting.
	rejected *prometheus.CounterVec
	now      func() time.Time
}

// policiesFromConfig derives the per-class policies from cfg, which must
// already have its defaults applied.
func policiesFromConfig(cfg *Config) map[string]bucketPolicy {
	general := bucketPolicy{rps: rate.Limit(cfg.RateLimit), burst: cfg.RateBurst}
	return map[string]bucketPolicy{
		classChat:    general,
		classHistory: general,
		classUpload:  {rps: rate.Limit(cfg.UploadRateLimit), burst: cfg.UploadRateBurst},
	}
}

// newRateLimiter returns a limiter and a stop function for its background
// sweep goroutine.
func newRateLimiter(policies map[string]bucketPolicy, rejected *prometheus.CounterVec) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets:  make(map[bucketKey]*bucket),
		policies: policies,
		rejected: rejected,
		now:      time.Now,
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				rl.sweep()
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// allow takes one token from the bucket for (class, ip). Classes without a
// policy are never limited.
func (rl *rateLimiter) allow(class, ip string) bool {
	p, ok := rl.policies[class]
	if !ok {
		return true
	}

	rl.mu.Lock()
	key := bucketKey{class: class, ip: ip}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(p.rps, p.burst)}
		rl.buckets[key] = b
	}
	b.seen = rl.now()
	rl.mu.Unlock()

	return b.lim.Allow()
}

// sweep drops buckets idle for longer than bucketIdle.
func (rl *rateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-bucketIdle)
	for k, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
}

// size returns the number of live buckets.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// limit wraps next with the bucket for class. Rejected requests get 429 with
// Retry-After and a WARN log line.
func (rl *rateLimiter) limit(class string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.allow(class, ip) {
			next.ServeHTTP(w, r)
			return
		}

		if rl.rejected != nil {
			rl.rejected.WithLabelValues(class).Inc()
		}
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("class", class),
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("Retry-After", "1")
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored;
// the server binds to loopback by default and is not meant to sit behind an
// untrusted proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
