// Package ingestion converts uploaded documents into plain-text segments.
// Each accepted format (PDF, DOC, DOCX) has one parser; the format is
// resolved from the filename extension before any bytes touch the disk.
// Uploads are staged to a temporary file for the duration of a single
// parse and removed on every exit path.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/54b3r/docchat-go/internal/logging"
)

// Segment is one page (PDF) or section (DOC, DOCX) of extracted text.
type Segment struct {
	// Text is the raw extracted text with line endings normalised to "\n".
	Text string
	// Offset is the 1-based page or section number within the source.
	Offset int
	// Source is the filename the segment was extracted from.
	Source string
}

// parseFunc extracts per-page or per-section text from the file at path.
type parseFunc func(ctx context.Context, path string) ([]string, error)

// defaultParsers holds one handler per Format variant.
var defaultParsers = map[Format]parseFunc{
	FormatPDF:  parsePDF,
	FormatDOC:  parseDOC,
	FormatDOCX: parseDOCX,
}

// Config holds the ingestor settings.
type Config struct {
	// TempDir is where uploads are staged while parsing. Empty uses
	// os.TempDir().
	TempDir string
	// MaxBytes rejects uploads larger than this many bytes. Zero disables
	// the check.
	MaxBytes int64
}

// Ingestor turns uploaded bytes into text segments. It holds no per-call
// state and is safe for concurrent use.
type Ingestor struct {
	// cfg holds the resolved configuration.
	cfg Config
	// parsers maps each format to its handler.
	parsers map[Format]parseFunc
}

// New constructs an Ingestor. A nil cfg uses defaults.
func New(cfg *Config) *Ingestor {
	ing := &Ingestor{parsers: defaultParsers}
	if cfg != nil {
		ing.cfg = *cfg
	}
	return ing
}

// Ingest parses data, uploaded as filename, into ordered text segments.
//
// It returns ErrUnsupportedFormat for extensions outside the allow-list and
// an *IngestError (matching ErrIngestFailed) when the parser fails or the
// document has no text. The staged temp file is removed before return in
// all cases.
func (i *Ingestor) Ingest(ctx context.Context, data []byte, filename string) ([]Segment, error) {
	log := logging.FromContext(ctx)

	format, err := FormatFor(filename)
	if err != nil {
		return nil, err
	}
	if i.cfg.MaxBytes > 0 && int64(len(data)) > i.cfg.MaxBytes {
		return nil, &IngestError{
			Filename: filename,
			Format:   format,
			Cause:    fmt.Errorf("file is %d bytes, limit is %d", len(data), i.cfg.MaxBytes),
		}
	}

	path, cleanup, err := i.stage(data, format)
	if err != nil {
		return nil, &IngestError{Filename: filename, Format: format, Cause: err}
	}
	defer cleanup()

	parse := i.parsers[format]
	pages, err := parse(ctx, path)
	if err != nil {
		return nil, &IngestError{Filename: filename, Format: format, Cause: err}
	}

	segments := make([]Segment, 0, len(pages))
	for idx, text := range pages {
		text = normalise(text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		segments = append(segments, Segment{Text: text, Offset: idx + 1, Source: filename})
	}
	if len(segments) == 0 {
		return nil, &IngestError{Filename: filename, Format: format, Cause: errNoText}
	}

	log.Debug("ingestion: parsed document",
		slog.String("file", filename),
		slog.String("format", format.String()),
		slog.Int("segments", len(segments)),
	)
	return segments, nil
}

// IngestFile reads a document from disk and ingests it under its base name.
func (i *Ingestor) IngestFile(ctx context.Context, path string) ([]Segment, error) {
	name := filepath.Base(path)
	if _, err := FormatFor(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	return i.Ingest(ctx, data, name)
}

// stage writes data to a fresh temp file carrying the format's extension and
// returns its path and a cleanup func that removes it.
func (i *Ingestor) stage(data []byte, format Format) (string, func(), error) {
	f, err := os.CreateTemp(i.cfg.TempDir, "docchat-upload-*"+format.Ext())
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return path, cleanup, nil
}

// normalise converts CRLF and CR line endings to LF and strips NUL bytes.
func normalise(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.ReplaceAll(s, "\x00", "")
}
