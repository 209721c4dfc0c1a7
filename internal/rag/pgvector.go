package rag

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// PostgresConfig holds Postgres connection parameters shared by the pgvector
// backend and the chat history store.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	// SSLMode is passed through as sslmode (default: disable).
	SSLMode string
}

// DSN renders the config as a postgres:// URL.
func (c *PostgresConfig) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	mode := c.SSLMode
	if mode == "" {
		mode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + strconv.Itoa(port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {mode}}.Encode(),
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

// PgvectorConfig holds the settings for the pgvector backend.
type PgvectorConfig struct {
	Postgres PostgresConfig
	// Collection scopes rows within the shared embeddings table.
	Collection string
	// Dimensions fixes the vector column size.
	Dimensions int
	// Debug logs every query through bundebug.
	Debug bool
}

const embeddingsTable = "docchat_embeddings"

// embeddingRow is the bun model for one stored chunk.
type embeddingRow struct {
	bun.BaseModel `bun:"table:docchat_embeddings,alias:e"`

	ID         string            `bun:"id,pk"`
	Collection string            `bun:"collection,notnull"`
	Content    string            `bun:"content,notnull"`
	Source     string            `bun:"source"`
	Metadata   map[string]string `bun:"metadata,type:jsonb"`
	Embedding  pgvector.Vector   `bun:"embedding,notnull"`
	Score      float32           `bun:"score,scanonly"`
}

// PgvectorStore implements VectorStore on Postgres with the pgvector
// extension. Similarity is cosine (the <=> operator).
type PgvectorStore struct {
	db         *bun.DB
	collection string
}

// NewPgvectorStore connects, enables the vector extension and creates the
// embeddings table when absent.
func NewPgvectorStore(ctx context.Context, cfg *PgvectorConfig, log *slog.Logger) (*PgvectorStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive, got %d", cfg.Dimensions)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.DSN())))
	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgvector: connect: %w", err)
	}
	if err := migrate(ctx, db, cfg.Dimensions); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug("pgvector: ready",
		slog.String("table", embeddingsTable),
		slog.String("collection", collection),
		slog.Int("dimensions", cfg.Dimensions),
	)
	return &PgvectorStore{db: db, collection: collection}, nil
}

func migrate(ctx context.Context, db *bun.DB, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			content    TEXT NOT NULL,
			source     TEXT,
			metadata   JSONB,
			embedding  vector(%d) NOT NULL
		)`, embeddingsTable, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_collection_idx ON %s (collection)`, embeddingsTable, embeddingsTable),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("pgvector: migrate: %w", err)
		}
	}
	return nil
}

// Upsert inserts or updates rows keyed by chunk ID. Postgres rejects the
// statement when any vector does not match the column size.
func (s *PgvectorStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("pgvector: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return nil
	}

	rows := make([]embeddingRow, len(docs))
	for i, d := range docs {
		rows[i] = embeddingRow{
			ID:         d.ID,
			Collection: s.collection,
			Content:    d.Content,
			Source:     d.Source,
			Metadata:   d.Metadata,
			Embedding:  pgvector.NewVector(embeddings[i]),
		}
	}

	_, err := s.db.NewInsert().
		Model(&rows).
		On("CONFLICT (id) DO UPDATE").
		Set("collection = EXCLUDED.collection").
		Set("content = EXCLUDED.content").
		Set("source = EXCLUDED.source").
		Set("metadata = EXCLUDED.metadata").
		Set("embedding = EXCLUDED.embedding").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: upsert: %w", err)
	}
	return nil
}

// Search returns the topK rows closest to queryEmbedding by cosine distance.
func (s *PgvectorStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	vec := pgvector.NewVector(queryEmbedding)

	var rows []embeddingRow
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "content", "source", "metadata").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec).
		Where("collection = ?", s.collection).
		OrderExpr("embedding <=> ?", vec).
		Limit(topK).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}

	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = Document{ID: r.ID, Content: r.Content, Source: r.Source, Metadata: r.Metadata, Score: r.Score}
	}
	return docs, nil
}

// Delete removes rows by chunk ID within the collection.
func (s *PgvectorStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*embeddingRow)(nil)).
		Where("collection = ?", s.collection).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *PgvectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PgvectorStore) Close() error {
	return s.db.Close()
}
