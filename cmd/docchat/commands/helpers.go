package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/docchat-go/internal/composer"
	"github.com/54b3r/docchat-go/internal/embedder"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/server"
	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/splitter"
	"github.com/54b3r/docchat-go/internal/store"
)

// buildSession wires every component a Session needs from environment
// variables. Infrastructure that cannot be reached (vector store, history
// database) degrades with a warning; a bad model or splitter configuration
// is fatal.
func buildSession(ctx context.Context, log *slog.Logger, conversation string) (*session.Session, error) {
	index := buildIndex(ctx, log)

	split, err := splitter.New(
		getEnvInt("CHUNK_SIZE", splitter.DefaultChunkSize),
		getEnvInt("CHUNK_OVERLAP", splitter.DefaultOverlap),
	)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to configure splitter: %w", err)
	}

	registry, err := provider.NewRegistryFromEnv(ctx)
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(registry.Backend())),
		slog.String("default_model", registry.Default()),
		slog.Int("models", len(registry.Models())),
	)

	placement, err := composer.ParsePlacement(os.Getenv("HISTORY_PLACEMENT"))
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	var opts []composer.Option
	opts = append(opts, composer.WithPlacement(placement))
	if n := getEnvInt("MAX_CONTEXT_TOKENS", 0); n > 0 {
		opts = append(opts, composer.WithMaxContextTokens(n))
	}

	sess, err := session.New(session.Deps{
		Ingestor: ingestion.New(&ingestion.Config{
			TempDir:  os.Getenv("DOCCHAT_TMPDIR"),
			MaxBytes: maxUploadBytes(),
		}),
		Splitter:     split,
		Index:        index,
		Transcript:   store.NewTranscript(openHistory(ctx, log), conversation),
		Composer:     composer.New(registry, opts...),
		HistoryDepth: max(getEnvInt("HISTORY_DEPTH", 0), 0),
	})
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return sess, nil
}

// buildIndex constructs the embedder and opens the configured vector backend.
// Any failure yields a degraded index so chat keeps working without context.
func buildIndex(ctx context.Context, log *slog.Logger) *rag.Index {
	if err := embedder.ValidateForRAG(log); err != nil {
		cfg := rag.ConfigFromEnv(embedder.DefaultDimensions(embedder.ResolveBackend()), embedder.BatchSize())
		log.Warn("rag: embedder misconfigured, retrieval disabled", slog.Any("error", err))
		return rag.NewDegradedIndex(&cfg.Index, err)
	}

	emb, err := embedder.NewFromEnv()
	if err != nil {
		cfg := rag.ConfigFromEnv(embedder.DefaultDimensions(embedder.ResolveBackend()), embedder.BatchSize())
		log.Warn("rag: failed to create embedder, retrieval disabled", slog.Any("error", err))
		return rag.NewDegradedIndex(&cfg.Index, err)
	}
	log.Info("embedder initialised",
		slog.String("backend", emb.Backend()),
		slog.String("model", emb.Model()),
		slog.Int("dimensions", emb.Dimensions()),
	)

	return rag.Open(ctx, rag.ConfigFromEnv(emb.Dimensions(), embedder.BatchSize()), emb, log)
}

// openHistory opens the conversation store selected by HISTORY_BACKEND
// (postgres, sqlite or memory; default sqlite). A store that cannot be
// opened falls back to memory so the chat stays usable.
func openHistory(ctx context.Context, log *slog.Logger) store.ConversationStore {
	backend := strings.ToLower(getEnvOrDefault("HISTORY_BACKEND", "sqlite"))
	switch backend {
	case "memory":
		log.Info("history: in-memory store, transcript is lost on exit")
		return store.NewMemoryStore()
	case "postgres":
		pgCfg := rag.PostgresConfigFromEnv()
		pg, err := store.OpenPostgres(ctx, pgCfg.DSN())
		if err != nil {
			log.Warn("history: failed to open postgres store, using memory", slog.Any("error", err))
			return store.NewMemoryStore()
		}
		log.Info("history: postgres store opened")
		return pg
	case "sqlite", "":
		path := os.Getenv("DOCCHAT_HISTORY_DB")
		if path == "" {
			var err error
			path, err = store.DefaultDBPath()
			if err != nil {
				log.Warn("history: could not resolve default DB path, using memory", slog.Any("error", err))
				return store.NewMemoryStore()
			}
		}
		s, err := store.Open(path)
		if err != nil {
			log.Warn("history: failed to open sqlite store, using memory", slog.Any("error", err))
			return store.NewMemoryStore()
		}
		log.Info("history: sqlite store opened", slog.String("path", path))
		return s
	default:
		log.Warn("history: unknown HISTORY_BACKEND, using memory", slog.String("backend", backend))
		return store.NewMemoryStore()
	}
}

// buildPingers assembles the readiness probes for GET /api/ready: the LLM
// backend, the vector store and the history database where each supports it.
func buildPingers(sess *session.Session, log *slog.Logger) []server.Pinger {
	var pingers []server.Pinger

	llm, err := server.NewLLMPinger(provider.ConfigFromEnv())
	if err != nil {
		log.Warn("ready: LLM pinger unavailable", slog.Any("error", err))
	} else {
		pingers = append(pingers, llm)
	}

	index := sess.Index()
	switch {
	case index.Degraded():
		pingers = append(pingers, server.NewNamedPinger("vector_store", degradedPinger{err: index.Err()}))
	default:
		if p, ok := index.Store().(rag.Pinger); ok {
			pingers = append(pingers, server.NewNamedPinger("vector_store", p))
		}
	}

	if p, ok := sess.Transcript().Store().(server.ContextPinger); ok {
		pingers = append(pingers, server.NewNamedPinger("history", p))
	}
	return pingers
}

// degradedPinger reports the cause a vector index was opened degraded.
type degradedPinger struct{ err error }

func (p degradedPinger) Ping(context.Context) error { return p.err }

// maxUploadBytes converts MAX_UPLOAD_MB (default 50) to bytes.
func maxUploadBytes() int64 {
	return int64(getEnvInt("MAX_UPLOAD_MB", 50)) << 20
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
