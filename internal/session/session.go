// Package session ties ingestion, retrieval, history and answer composition
// into one explicit conversation object. A Session owns every component it
// uses; nothing is kept in package-level state.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/54b3r/docchat-go/internal/composer"
	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/splitter"
	"github.com/54b3r/docchat-go/internal/store"
)

// ErrEmptyQuestion is returned by Ask for a blank question.
var ErrEmptyQuestion = errors.New("session: question must not be empty")

// Ingestor converts uploaded bytes or local files into text segments.
// *ingestion.Ingestor satisfies it.
type Ingestor interface {
	Ingest(ctx context.Context, data []byte, filename string) ([]ingestion.Segment, error)
	IngestFile(ctx context.Context, path string) ([]ingestion.Segment, error)
}

// Deps holds the components a Session is built from. All fields except
// HistoryDepth are required.
type Deps struct {
	Ingestor   Ingestor
	Splitter   *splitter.Splitter
	Index      *rag.Index
	Transcript *store.Transcript
	Composer   *composer.Composer
	// HistoryDepth caps how many prior messages are offered to the model.
	// Zero offers the whole conversation and leaves trimming to the
	// composer's token budget.
	HistoryDepth int
}

// Session is one document-grounded conversation. Upload and Ask are safe for
// concurrent use; questions are answered one at a time so the user and
// assistant turns of a question are stored next to each other.
type Session struct {
	ingestor   Ingestor
	splitter   *splitter.Splitter
	index      *rag.Index
	transcript *store.Transcript
	composer   *composer.Composer
	depth      int

	// askMu serialises Ask so turns never interleave in the transcript.
	askMu sync.Mutex
}

// New constructs a Session from d.
func New(d Deps) (*Session, error) {
	switch {
	case d.Ingestor == nil:
		return nil, fmt.Errorf("session: ingestor must not be nil")
	case d.Splitter == nil:
		return nil, fmt.Errorf("session: splitter must not be nil")
	case d.Index == nil:
		return nil, fmt.Errorf("session: index must not be nil")
	case d.Transcript == nil:
		return nil, fmt.Errorf("session: transcript must not be nil")
	case d.Composer == nil:
		return nil, fmt.Errorf("session: composer must not be nil")
	case d.HistoryDepth < 0:
		return nil, fmt.Errorf("session: history depth must not be negative, got %d", d.HistoryDepth)
	}
	return &Session{
		ingestor:   d.Ingestor,
		splitter:   d.Splitter,
		index:      d.Index,
		transcript: d.Transcript,
		composer:   d.Composer,
		depth:      d.HistoryDepth,
	}, nil
}

// Index returns the session's vector index.
func (s *Session) Index() *rag.Index { return s.index }

// Transcript returns the conversation transcript the session appends to.
func (s *Session) Transcript() *store.Transcript { return s.transcript }

// Ask answers question with modelID, grounded on the indexed documents and
// the conversation so far. The answer streams to w (may be nil) and is
// returned in full.
//
// A vector search failure is logged and the question is answered with empty
// context. On a model failure the question is still recorded and the error,
// matching composer.ErrModelCallFailed, is returned. Model IDs outside the
// allow-list are rejected before anything is recorded.
func (s *Session) Ask(ctx context.Context, modelID, question string, w io.Writer) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	log := logging.FromContext(ctx)

	s.askMu.Lock()
	defer s.askMu.Unlock()

	prior := s.transcript.Recent(ctx, s.depth)

	matches, err := s.index.Search(ctx, question, s.index.TopK())
	if err != nil {
		log.Warn("session: context search failed, answering without documents",
			slog.String("collection", s.index.Collection()),
			slog.Any("error", err),
		)
		matches = nil
	}
	log.Debug("session: context retrieved",
		slog.Int("matches", len(matches)),
		slog.Int("history", len(prior)),
	)

	answer, err := s.composer.Answer(ctx, modelID, question, matches, prior, w)
	if errors.Is(err, composer.ErrUnknownModel) {
		return "", err
	}

	s.transcript.Append(ctx, store.RoleUser, question)
	if err != nil {
		return "", err
	}
	s.transcript.Append(ctx, store.RoleAssistant, answer)
	return answer, nil
}

// History returns the conversation so far, oldest first. It is empty when
// the history store cannot be read.
func (s *Session) History(ctx context.Context) []store.Message {
	return s.transcript.Load(ctx)
}

// Models returns the selectable model IDs.
func (s *Session) Models() []string { return s.composer.Models() }

// DefaultModel returns the model used when Ask is given an empty ID.
func (s *Session) DefaultModel() string { return s.composer.DefaultModel() }

// Close releases the vector index and history store.
func (s *Session) Close() error {
	return errors.Join(s.index.Close(), s.transcript.Store().Close())
}
