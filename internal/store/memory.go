package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local ConversationStore used when persistence is
// disabled. Contents are lost on exit.
type MemoryStore struct {
	mu    sync.Mutex
	seq   int64
	convs map[string][]Message
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string][]Message)}
}

// Append records a message.
func (s *MemoryStore) Append(_ context.Context, conversation string, role Role, content string) (int64, error) {
	if err := checkRole(role); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.convs[conversation] = append(s.convs[conversation], Message{
		Seq:       s.seq,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	return s.seq, nil
}

// Load returns a copy of the conversation.
func (s *MemoryStore) Load(_ context.Context, conversation string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message{}, s.convs[conversation]...), nil
}

// Recent returns the last n messages.
func (s *MemoryStore) Recent(_ context.Context, conversation string, n int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.convs[conversation]
	if n >= 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]Message{}, msgs...), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
