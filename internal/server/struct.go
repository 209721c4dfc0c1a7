package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds a single /api/chat answer (default: 5m).
	ChatTimeout time.Duration
	// MaxUploadBytes caps the multipart body of /api/upload (default: 50 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// UploadRateLimit and UploadRateBurst shape the separate bucket used by
	// /api/upload. Defaults are 1 request/second with a burst of 5.
	UploadRateLimit float64
	UploadRateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Asker is the conversation the server exposes. *session.Session satisfies
// it; tests inject a fake.
type Asker interface {
	// Ask streams the answer to question to w and returns it in full.
	Ask(ctx context.Context, modelID, question string, w io.Writer) (string, error)
	// Upload indexes files and reports per-file results.
	Upload(ctx context.Context, files []session.File) (*session.UploadReport, error)
	// History returns the conversation so far, oldest first.
	History(ctx context.Context) []store.Message
	// Models returns the selectable model IDs.
	Models() []string
	// DefaultModel returns the model used when a request names none.
	DefaultModel() string
}

// Server is the HTTP server that wraps a document chat session.
type Server struct {
	// asker answers questions and indexes uploads.
	asker Asker
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's question.
	Message string `json:"message"`
	// Model is the allow-listed model ID. Empty selects the default.
	Model string `json:"model,omitempty"`
}

// modelsResponse is the JSON response for GET /api/models.
type modelsResponse struct {
	Models  []string `json:"models"`
	Default string   `json:"default"`
}

// historyMessage is one transcript entry in GET /api/history.
type historyMessage struct {
	Seq     int64  `json:"seq"`
	Role    string `json:"role"`
	Content string `json:"content"`
	// HTML is the rendered message, set only for ?format=html.
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// historyResponse is the JSON response for GET /api/history.
type historyResponse struct {
	Messages []historyMessage `json:"messages"`
}
