// Package composer builds the grounded prompt for a question and streams the
// chat model's answer.
package composer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docchat-go/internal/budget"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/provider"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

var (
	// ErrModelCallFailed wraps any failure while calling or streaming from
	// the chat model.
	ErrModelCallFailed = errors.New("composer: model call failed")

	// ErrUnknownModel is returned for model IDs outside the allow-list.
	ErrUnknownModel = provider.ErrUnknownModel
)

// Models resolves an allow-listed model ID to a chat model.
// *provider.Registry satisfies it.
type Models interface {
	Resolve(ctx context.Context, id string) (model.BaseChatModel, string, error)
	Models() []string
	Default() string
}

// Option configures a Composer.
type Option func(*Composer)

// WithPlacement sets the history placement policy.
func WithPlacement(p HistoryPlacement) Option {
	return func(c *Composer) { c.placement = p }
}

// WithMaxContextTokens sets the prompt budget history is trimmed to.
func WithMaxContextTokens(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// Composer turns a question, retrieved context and prior turns into a model
// call.
type Composer struct {
	models    Models
	placement HistoryPlacement
	maxTokens int
}

// New returns a Composer over models.
func New(models Models, opts ...Option) *Composer {
	c := &Composer{
		models:    models,
		placement: HistoryBeforeContext,
		maxTokens: budget.DefaultMaxContextTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Placement returns the configured history placement policy.
func (c *Composer) Placement() HistoryPlacement { return c.placement }

// Models returns the allow-listed model IDs.
func (c *Composer) Models() []string { return c.models.Models() }

// DefaultModel returns the model used when the caller does not pick one.
func (c *Composer) DefaultModel() string { return c.models.Default() }

// Answer asks modelID to answer question from chunks, with prior as the
// conversation so far. Streamed content is written to w as it arrives (w may
// be nil) and the full answer is returned.
func (c *Composer) Answer(ctx context.Context, modelID, question string, chunks []rag.Match, prior []store.Message, w io.Writer) (string, error) {
	log := logging.FromContext(ctx)

	chat, id, err := c.models.Resolve(ctx, modelID)
	if err != nil {
		if errors.Is(err, ErrUnknownModel) {
			return "", fmt.Errorf("composer: %w", err)
		}
		return "", fmt.Errorf("%w: %w", ErrModelCallFailed, err)
	}

	msgs := c.compose(ctx, question, chunks, prior)
	log.Debug("composer: calling model",
		slog.String("model", id),
		slog.Int("messages", len(msgs)),
		slog.Int("context_chunks", len(chunks)),
		slog.Int("estimated_tokens", budget.EstimateMessages(msgs)),
	)

	stream, err := chat.Stream(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrModelCallFailed, id, err)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %s: stream: %w", ErrModelCallFailed, id, err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		sb.WriteString(chunk.Content)
		if w != nil {
			if _, err := io.WriteString(w, chunk.Content); err != nil {
				return "", fmt.Errorf("composer: write answer: %w", err)
			}
		}
	}
	return sb.String(), nil
}

// compose builds the message list for the configured placement, trimming
// history to the token budget.
func (c *Composer) compose(ctx context.Context, question string, chunks []rag.Match, prior []store.Message) []*schema.Message {
	p := buildPrompt(c.placement, question, chunks)
	if fixed := p.fixed(); budget.Exceeds(fixed, c.maxTokens) {
		logging.FromContext(ctx).Warn("composer: context and question alone exceed the context window",
			slog.Int("estimated_tokens", budget.EstimateMessages(fixed)),
			slog.Int("max_tokens", c.maxTokens),
		)
	}
	history := historyMessages(prior)
	kept := budget.TrimHistory(p.fixed(), history, c.maxTokens)
	if dropped := len(history) - len(kept); dropped > 0 {
		logging.FromContext(ctx).Warn("composer: history trimmed to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("kept", len(kept)),
			slog.Int("max_tokens", c.maxTokens),
		)
	}
	return p.assemble(kept)
}
