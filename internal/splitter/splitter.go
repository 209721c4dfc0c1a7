// Package splitter cuts extracted document text into overlapping chunks
// sized for embedding. Chunk ends are pulled back to the nearest natural
// boundary (paragraph, line or sentence, word) when one exists inside the
// window, and consecutive chunks always share exactly Overlap runes so the
// original text can be rebuilt from the chunk sequence.
package splitter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/54b3r/docchat-go/internal/ingestion"
)

const (
	// DefaultChunkSize is the maximum number of runes per chunk.
	DefaultChunkSize = 1000
	// DefaultOverlap is the number of runes shared by consecutive chunks.
	DefaultOverlap = 400
)

// ErrInvalidSplitConfig is returned by New for a size/overlap pair that
// cannot make progress.
var ErrInvalidSplitConfig = errors.New("splitter: invalid split config")

// chunkNamespace scopes chunk UUIDs so they never collide with other v5 IDs.
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://docchat.local/chunk"))

// boundary tiers, strongest first. A chunk may end immediately after any of
// these separators.
var boundaryTiers = [][]string{
	{"\n\n"},
	{"\n", ". ", "! ", "? "},
	{" ", "\t"},
}

// Chunk is a contiguous piece of a segment ready for embedding.
type Chunk struct {
	// ID is a deterministic UUIDv5 over source, page and offset.
	ID string
	// Text is the chunk content, unmodified.
	Text string
	// SourceID is the originating filename.
	SourceID string
	// Page is the 1-based page or section of the source segment.
	Page int
	// SourceOffset is the rune offset of Text inside its segment.
	SourceOffset int
	// Index is the position of the chunk in the Split output.
	Index int
}

// Splitter holds a validated chunk size and overlap.
type Splitter struct {
	size    int
	overlap int
}

// New validates the configuration. chunkSize must be positive and overlap
// must lie in [0, chunkSize).
func New(chunkSize, overlap int) (*Splitter, error) {
	switch {
	case chunkSize <= 0:
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrInvalidSplitConfig, chunkSize)
	case overlap < 0:
		return nil, fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidSplitConfig, overlap)
	case overlap >= chunkSize:
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidSplitConfig, overlap, chunkSize)
	}
	return &Splitter{size: chunkSize, overlap: overlap}, nil
}

// NewDefault returns a Splitter with DefaultChunkSize and DefaultOverlap.
func NewDefault() *Splitter {
	return &Splitter{size: DefaultChunkSize, overlap: DefaultOverlap}
}

// Size returns the configured chunk size in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks every segment in order. Whitespace-only segments yield
// nothing.
func (s *Splitter) Split(segments []ingestion.Segment) []Chunk {
	var out []Chunk
	for _, seg := range segments {
		for _, sp := range s.spans(seg.Text) {
			out = append(out, Chunk{
				ID:           chunkID(seg.Source, seg.Offset, sp.offset),
				Text:         sp.text,
				SourceID:     seg.Source,
				Page:         seg.Offset,
				SourceOffset: sp.offset,
				Index:        len(out),
			})
		}
	}
	return out
}

// SplitText chunks a single string.
func (s *Splitter) SplitText(text string) []string {
	spans := s.spans(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.text
	}
	return out
}

type span struct {
	text   string
	offset int
}

func (s *Splitter) spans(text string) []span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)

	var out []span
	for start := 0; ; {
		end := start + s.size
		if end >= n {
			out = append(out, span{text: string(runes[start:]), offset: start})
			return out
		}
		end = s.cut(runes, start, end)
		out = append(out, span{text: string(runes[start:end]), offset: start})
		// end > start+overlap, so the cursor always advances.
		start = end - s.overlap
	}
}

// cut returns the chunk end for the window [start, limit). It picks the
// latest position in (start+overlap, limit] that directly follows a
// separator of the strongest tier present, or limit when none is found.
func (s *Splitter) cut(runes []rune, start, limit int) int {
	lo := start + s.overlap
	for _, tier := range boundaryTiers {
		for end := limit; end > lo; end-- {
			if endsWithAny(runes, start, end, tier) {
				return end
			}
		}
	}
	return limit
}

// endsWithAny reports whether runes[start:end] ends with one of seps.
func endsWithAny(runes []rune, start, end int, seps []string) bool {
	for _, sep := range seps {
		sr := []rune(sep)
		from := end - len(sr)
		if from < start {
			continue
		}
		if string(runes[from:end]) == sep {
			return true
		}
	}
	return false
}

func chunkID(source string, page, offset int) string {
	name := fmt.Sprintf("%s#%d@%d", source, page, offset)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
