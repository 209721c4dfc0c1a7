package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/54b3r/docchat-go/internal/logging"
)

// maxBacklog bounds the messages held in memory while the store is failing.
const maxBacklog = 1000

// Transcript is one conversation bound to a ConversationStore.
//
// Append never returns an error: a message the store rejects is kept in an
// in-memory backlog, logged at WARN, and written ahead of the next message
// once the store recovers, so durable order always matches append order.
// Load and Recent return the durable history followed by the backlog, or an
// empty slice when the store cannot be read. Reads hold the same lock as
// Append, so a concurrent flush never hides a backlogged message.
type Transcript struct {
	store        ConversationStore
	conversation string

	mu      sync.Mutex
	backlog []Message
}

// NewTranscript binds conversation (DefaultConversation when empty) to s.
func NewTranscript(s ConversationStore, conversation string) *Transcript {
	if conversation == "" {
		conversation = DefaultConversation
	}
	return &Transcript{store: s, conversation: conversation}
}

// Conversation returns the bound conversation ID.
func (t *Transcript) Conversation() string { return t.conversation }

// Store returns the underlying ConversationStore.
func (t *Transcript) Store() ConversationStore { return t.store }

// Append records a message. Storage failures are logged, never returned.
func (t *Transcript) Append(ctx context.Context, role Role, content string) {
	log := logging.FromContext(ctx)
	if err := checkRole(role); err != nil {
		log.Warn("store: dropping message", slog.Any("error", err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.backlog = append(t.backlog, Message{Role: role, Content: content, CreatedAt: time.Now()})
	if err := t.flushLocked(ctx); err != nil {
		if len(t.backlog) > maxBacklog {
			t.backlog = t.backlog[len(t.backlog)-maxBacklog:]
		}
		log.Warn("store: chat history write failed, keeping message in memory",
			slog.String("conversation", t.conversation),
			slog.Int("pending", len(t.backlog)),
			slog.Any("error", err),
		)
	}
}

// flushLocked writes the backlog in order, stopping at the first failure.
func (t *Transcript) flushLocked(ctx context.Context) error {
	for len(t.backlog) > 0 {
		m := t.backlog[0]
		if _, err := t.store.Append(ctx, t.conversation, m.Role, m.Content); err != nil {
			return err
		}
		t.backlog = t.backlog[1:]
	}
	t.backlog = nil
	return nil
}

// Load returns the conversation in ascending sequence. On a read failure it
// logs a warning and returns an empty slice, never partial data.
func (t *Transcript) Load(ctx context.Context) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	msgs, err := t.store.Load(ctx, t.conversation)
	if err != nil {
		t.warnRead(ctx, err)
		return []Message{}
	}
	return t.withBacklogLocked(msgs)
}

// Recent returns the last n messages of the conversation, oldest first,
// including messages still waiting in the backlog. n <= 0 returns the whole
// conversation. Read failures behave as in Load.
func (t *Transcript) Recent(ctx context.Context, n int) []Message {
	if n <= 0 {
		return t.Load(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	msgs, err := t.store.Recent(ctx, t.conversation, n)
	if err != nil {
		t.warnRead(ctx, err)
		return []Message{}
	}
	out := t.withBacklogLocked(msgs)
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// withBacklogLocked appends the unpersisted messages to msgs, numbering
// them after the last durable sequence. t.mu must be held.
func (t *Transcript) withBacklogLocked(msgs []Message) []Message {
	if len(t.backlog) == 0 {
		return msgs
	}

	var last int64
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].Seq
	}
	out := make([]Message, 0, len(msgs)+len(t.backlog))
	out = append(out, msgs...)
	for i, m := range t.backlog {
		m.Seq = last + int64(i) + 1
		out = append(out, m)
	}
	return out
}

func (t *Transcript) warnRead(ctx context.Context, err error) {
	logging.FromContext(ctx).Warn("store: chat history read failed, continuing without history",
		slog.String("conversation", t.conversation),
		slog.Any("error", err),
	)
}

// Pending returns the number of messages not yet persisted.
func (t *Transcript) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.backlog)
}
