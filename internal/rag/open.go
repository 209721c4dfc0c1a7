package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Backend names accepted by VECTOR_BACKEND.
const (
	BackendPgvector = "pgvector"
	BackendQdrant   = "qdrant"
	BackendChromem  = "chromem"
	BackendDisabled = "disabled"
)

// OpenConfig selects and configures a vector backend.
type OpenConfig struct {
	// Backend is one of pgvector, qdrant, chromem, disabled.
	Backend string
	// Index holds collection, batch, top-k and dimension settings.
	Index IndexConfig
	// Postgres is used by the pgvector backend.
	Postgres PostgresConfig
	// Qdrant is used by the qdrant backend.
	Qdrant QdrantConfig
	// Chromem is used by the chromem backend.
	Chromem ChromemConfig
	// Debug enables query logging where the backend supports it.
	Debug bool
}

// ConfigFromEnv builds an OpenConfig from environment variables. dims is the
// embedding dimension resolved by the embedder package.
func ConfigFromEnv(dims, batchSize int) *OpenConfig {
	collection := envOr("VECTOR_COLLECTION", DefaultCollection)
	return &OpenConfig{
		Backend: strings.ToLower(envOr("VECTOR_BACKEND", BackendPgvector)),
		Index: IndexConfig{
			Collection: collection,
			BatchSize:  batchSize,
			TopK:       envInt("RAG_TOP_K", DefaultTopK),
			Dimensions: dims,
		},
		Postgres: PostgresConfigFromEnv(),
		Qdrant: QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			Port:       envInt("QDRANT_PORT", 6334),
			Collection: collection,
			VectorSize: uint64(max(dims, 0)),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		},
		Chromem: ChromemConfig{
			Path:       os.Getenv("CHROMEM_PATH"),
			Collection: collection,
		},
		Debug: strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug"),
	}
}

// PostgresConfigFromEnv reads the PG_* variables.
func PostgresConfigFromEnv() PostgresConfig {
	return PostgresConfig{
		Host:     envOr("PG_HOST", "localhost"),
		Port:     envInt("PG_PORT", 5432),
		User:     envOr("PG_USER", "postgres"),
		Password: os.Getenv("PG_PASSWORD"),
		DBName:   envOr("PG_DBNAME", "postgres"),
		SSLMode:  envOr("PG_SSLMODE", "disable"),
	}
}

// Open connects the configured backend and wraps it in an Index. It never
// fails: when the backend is disabled or unreachable it logs a warning and
// returns a degraded Index whose Err matches ErrStoreUnavailable.
func Open(ctx context.Context, cfg *OpenConfig, embedder Embedder, log *slog.Logger) *Index {
	store, err := openStore(ctx, cfg, embedder, log)
	if err != nil {
		log.Warn("rag: vector store unavailable, retrieval disabled",
			slog.String("backend", cfg.Backend),
			slog.Any("error", err),
		)
		return NewDegradedIndex(&cfg.Index, err)
	}

	idx, err := NewIndex(embedder, store, &cfg.Index)
	if err != nil {
		_ = store.Close()
		log.Warn("rag: index construction failed, retrieval disabled", slog.Any("error", err))
		return NewDegradedIndex(&cfg.Index, err)
	}

	log.Info("rag: vector store ready",
		slog.String("backend", cfg.Backend),
		slog.String("collection", idx.Collection()),
		slog.Int("top_k", idx.TopK()),
	)
	return idx
}

func openStore(ctx context.Context, cfg *OpenConfig, embedder Embedder, log *slog.Logger) (VectorStore, error) {
	if cfg.Backend == BackendDisabled || cfg.Backend == "none" {
		return nil, errors.New("VECTOR_BACKEND is disabled")
	}
	if embedder == nil {
		return nil, errors.New("no embedder configured")
	}

	switch cfg.Backend {
	case BackendPgvector, "":
		return NewPgvectorStore(ctx, &PgvectorConfig{
			Postgres:   cfg.Postgres,
			Collection: cfg.Index.Collection,
			Dimensions: cfg.Index.Dimensions,
			Debug:      cfg.Debug,
		}, log)
	case BackendQdrant:
		q := cfg.Qdrant
		return NewQdrantStore(ctx, &q)
	case BackendChromem:
		return NewChromemStore(&cfg.Chromem)
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q (valid values: pgvector, qdrant, chromem, disabled)", cfg.Backend)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
