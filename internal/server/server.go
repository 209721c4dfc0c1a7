// Package server implements the HTTP server that exposes a document chat
// session via a REST/SSE API.
// The server is started by the `docchat serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/docchat-go/internal/composer"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/render"
	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/store"
)

// maxChatBody caps the JSON body of /api/chat.
const maxChatBody = 64 << 10

// New constructs a Server from the provided session and config.
func New(a Asker, cfg *Config) (*Server, error) {
	if a == nil {
		return nil, fmt.Errorf("server: session must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 5 * time.Minute
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.UploadRateLimit == 0 {
		cfg.UploadRateLimit = defaultUploadRateLimit
	}
	if cfg.UploadRateBurst == 0 {
		cfg.UploadRateBurst = defaultUploadRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		asker:   a,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: DOCCHAT_API_KEY not set, API authentication disabled")
	}

	rl, stop := newRateLimiter(policiesFromConfig(cfg), s.metrics.rateLimitedTotal)
	s.stopRL = stop

	// protect applies auth then the class's rate limit to a handler.
	protect := func(class string, h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.limit(class, h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.instrument("chat", protect(classChat, s.handleChat)))
	mux.Handle("POST /api/upload", s.instrument("upload", protect(classUpload, s.handleUpload)))
	mux.Handle("GET /api/history", s.instrument("history", protect(classHistory, s.handleHistory)))
	mux.Handle("GET /api/models", s.instrument("models", http.HandlerFunc(s.handleModels)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler, including request logging.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleChat handles POST /api/chat requests. It streams the answer using
// Server-Sent Events (SSE) so the UI can render tokens as they arrive.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.Model != "" && !slices.Contains(s.asker.Models(), req.Model) {
		http.Error(w, fmt.Sprintf("model %q is not available", req.Model), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers so the client receives a streaming response.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()
	start := time.Now()

	// sseWriter wraps the ResponseWriter to emit SSE-formatted data events.
	sw := &sseWriter{w: w, flusher: flusher}

	_, err := s.asker.Ask(ctx, req.Model, req.Message, sw)
	outcome := chatOutcome(ctx, err)
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warn("chat: answer failed", slog.String("outcome", outcome), slog.Any("error", err))
		writeEvent(w, "error", err.Error())
		flusher.Flush()
		return
	}

	// Signal stream completion.
	writeEvent(w, "done", "[DONE]")
	flusher.Flush()
}

// chatOutcome labels a finished chat request for metrics.
func chatOutcome(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, composer.ErrModelCallFailed):
		return "model_error"
	default:
		return "error"
	}
}

// handleUpload handles POST /api/upload. Files arrive as multipart parts
// named "files"; each is indexed independently and reported in the response.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid multipart body", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		http.Error(w, `at least one "files" part is required`, http.StatusBadRequest)
		return
	}

	files := make([]session.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			http.Error(w, "cannot read upload", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			http.Error(w, "cannot read upload", http.StatusBadRequest)
			return
		}
		files = append(files, session.File{Name: fh.Filename, Data: data})
	}

	report, err := s.asker.Upload(r.Context(), files)
	if err != nil {
		log.Warn("upload: aborted", slog.Any("error", err))
		http.Error(w, "upload aborted", http.StatusServiceUnavailable)
		return
	}
	for i := range report.Files {
		outcome := "ok"
		if !report.Files[i].OK() {
			outcome = "failed"
		}
		s.metrics.uploadFilesTotal.WithLabelValues(outcome).Inc()
	}
	s.metrics.uploadChunksTotal.Add(float64(report.Chunks()))

	writeJSON(w, http.StatusOK, report)
}

// handleHistory handles GET /api/history. With ?format=html each message
// carries a rendered HTML fragment; assistant answers are Markdown.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	asHTML := r.URL.Query().Get("format") == "html"

	msgs := s.asker.History(r.Context())
	resp := historyResponse{Messages: make([]historyMessage, 0, len(msgs))}
	for _, m := range msgs {
		hm := historyMessage{
			Seq:       m.Seq,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if asHTML {
			hm.HTML = "<p>" + html.EscapeString(m.Content) + "</p>\n"
			if m.Role == store.RoleAssistant {
				rendered, err := render.Markdown(m.Content)
				if err != nil {
					log.Warn("history: render failed", slog.Int64("seq", m.Seq), slog.Any("error", err))
				} else {
					hm.HTML = rendered
				}
			}
		}
		resp.Messages = append(resp.Messages, hm)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{
		Models:  s.asker.Models(),
		Default: s.asker.DefaultModel(),
	})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEvent writes a named SSE event. Multi-line data is split across
// data: lines.
func writeEvent(w io.Writer, name, data string) {
	var buf strings.Builder
	buf.WriteString("event: ")
	buf.WriteString(name)
	buf.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	_, _ = io.WriteString(w, buf.String())
}

// sseWriter wraps an http.ResponseWriter to emit Server-Sent Event data frames.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each write.
	flusher http.Flusher
}

// Write formats p as one or more SSE data lines and flushes to the client.
// Each newline in p starts a new "data: " line, so clients that join data
// lines with "\n" get the chunk back byte for byte.
func (s *sseWriter) Write(p []byte) (n int, err error) {
	var buf strings.Builder
	for _, line := range strings.Split(string(p), "\n") {
		buf.WriteString("data: ")
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	if _, err = io.WriteString(s.w, buf.String()); err != nil {
		return 0, err
	}
	s.flusher.Flush()
	return len(p), nil
}
