package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a ConversationStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chat_history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    conversation TEXT    NOT NULL DEFAULT 'default',
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_chat_history_conversation
    ON chat_history (conversation, id);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Append persists a single message and returns its row id as sequence.
func (s *SQLiteStore) Append(ctx context.Context, conversation string, role Role, content string) (int64, error) {
	if err := checkRole(role); err != nil {
		return 0, err
	}
	const q = `INSERT INTO chat_history (conversation, role, content, created_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q, conversation, string(role), content, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("store: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: append id: %w", err)
	}
	return id, nil
}

// Load returns the whole conversation in ascending id order.
func (s *SQLiteStore) Load(ctx context.Context, conversation string) ([]Message, error) {
	const q = `
SELECT id, role, content, created_at
FROM   chat_history
WHERE  conversation = ?
ORDER  BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, conversation)
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	return scanSQLite(rows)
}

// Recent returns the most recent n messages, ordered oldest-first. Uses a
// subquery to select the tail then re-order for injection.
func (s *SQLiteStore) Recent(ctx context.Context, conversation string, n int) ([]Message, error) {
	const q = `
SELECT id, role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   chat_history
    WHERE  conversation = ?
    ORDER  BY id DESC
    LIMIT  ?
) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, q, conversation, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return scanSQLite(rows)
}

func scanSQLite(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&m.Seq, &role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return msgs, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
