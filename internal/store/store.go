// Package store persists the chat transcript. ConversationStore has
// Postgres, SQLite and in-memory backends; Transcript binds one conversation
// to a backend and never lets a storage failure reach the caller.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrStoreUnavailable reports that chat history persistence is unreachable.
var ErrStoreUnavailable = errors.New("store: chat history unavailable")

// DefaultConversation is the conversation ID used when none is given.
const DefaultConversation = "default"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser is a message sent by the human operator.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the language model.
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Message is a single turn in a conversation.
type Message struct {
	// Seq is the monotonically increasing sequence number of the message.
	Seq int64 `json:"seq"`
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time `json:"created_at"`
}

// ConversationStore persists and retrieves chat history keyed by
// conversation ID. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Append persists a single message and returns its sequence number.
	Append(ctx context.Context, conversation string, role Role, content string) (int64, error)
	// Load returns every message of the conversation in ascending sequence.
	Load(ctx context.Context, conversation string) ([]Message, error)
	// Recent returns the most recent n messages, ordered oldest-first so
	// they can be prepended to the model prompt directly. If fewer than n
	// messages exist, all are returned.
	Recent(ctx context.Context, conversation string, n int) ([]Message, error)
	// Close releases any resources held by the store.
	Close() error
}

// DefaultDBPath returns the default path for the SQLite history database.
// It resolves to ~/.docchat/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

func checkRole(role Role) error {
	if !role.Valid() {
		return fmt.Errorf("store: invalid role %q", role)
	}
	return nil
}
