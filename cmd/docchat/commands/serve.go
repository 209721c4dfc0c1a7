package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/tracing"
)

// NewServeCmd constructs the `docchat serve` command, which starts the HTTP
// server exposing upload, chat and transcript endpoints.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var chatTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docchat HTTP server",
		Long: `Start the docchat HTTP server on localhost.

The server exposes a REST/SSE API: upload documents with POST /api/upload,
ask questions with POST /api/chat (answers stream as server-sent events)
and replay the conversation with GET /api/history.

Examples:
  docchat serve
  docchat serve --port 9090
  VECTOR_BACKEND=chromem HISTORY_BACKEND=sqlite docchat serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Langfuse tracing is opt-in and a no-op if keys are absent.
			flush, enabled := tracing.Install()
			defer flush()
			if enabled {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			sess, err := buildSession(ctx, log, conversationID)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() {
				if cerr := sess.Close(); cerr != nil {
					log.Warn("serve: close failed", slog.Any("error", cerr))
				}
			}()

			srv, err := server.New(sess, &server.Config{
				Host:           host,
				Port:           port,
				ChatTimeout:    chatTimeout,
				MaxUploadBytes: maxUploadBytes(),
				Logger:         log,
				Pingers:        buildPingers(sess, log),
				APIKey:         os.Getenv("DOCCHAT_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")
	cmd.Flags().DurationVar(&chatTimeout, "chat-timeout", 5*time.Minute, "Maximum duration of a single answer")

	return cmd
}
