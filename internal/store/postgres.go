package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // register "postgres" driver
)

// PostgresStore is a ConversationStore backed by the chat_history table in
// Postgres.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with dsn (URL or key=value form) and creates the
// chat_history table if absent.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: postgres: %w", ErrStoreUnavailable, err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_history (
    id           SERIAL PRIMARY KEY,
    role         TEXT NOT NULL,
    content      TEXT NOT NULL,
    conversation TEXT NOT NULL DEFAULT 'default',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("store: postgres migrate: %w", err)
	}
	// Tables created by older deployments lack the conversation column.
	const addConversation = `ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS conversation TEXT NOT NULL DEFAULT 'default'`
	if _, err := s.db.ExecContext(ctx, addConversation); err != nil {
		return fmt.Errorf("store: postgres migrate: %w", err)
	}
	return nil
}

// Append inserts one row and returns its serial id.
func (s *PostgresStore) Append(ctx context.Context, conversation string, role Role, content string) (int64, error) {
	if err := checkRole(role); err != nil {
		return 0, err
	}
	const q = `INSERT INTO chat_history (conversation, role, content) VALUES ($1, $2, $3) RETURNING id`
	var id int64
	if err := s.db.QueryRowContext(ctx, q, conversation, string(role), content).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: postgres append: %w", err)
	}
	return id, nil
}

// Load returns the whole conversation ordered by id.
func (s *PostgresStore) Load(ctx context.Context, conversation string) ([]Message, error) {
	const q = `
SELECT id, role, content, created_at
FROM   chat_history
WHERE  conversation = $1
ORDER  BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, conversation)
	if err != nil {
		return nil, fmt.Errorf("store: postgres load: %w", err)
	}
	return scanPostgres(rows)
}

// Recent returns the newest n messages, oldest-first.
func (s *PostgresStore) Recent(ctx context.Context, conversation string, n int) ([]Message, error) {
	const q = `
SELECT id, role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   chat_history
    WHERE  conversation = $1
    ORDER  BY id DESC
    LIMIT  $2
) AS tail ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, q, conversation, n)
	if err != nil {
		return nil, fmt.Errorf("store: postgres recent: %w", err)
	}
	return scanPostgres(rows)
}

func scanPostgres(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.Seq, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: postgres scan: %w", err)
		}
		m.Role = Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: postgres rows: %w", err)
	}
	return msgs, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: postgres close: %w", err)
	}
	return nil
}
