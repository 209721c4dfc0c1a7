package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat is returned when a filename's extension is not on
	// the allow-list. Nothing is written to disk in that case.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrIngestFailed matches any *IngestError via errors.Is.
	ErrIngestFailed = errors.New("ingest failed")

	// errNoText is the cause recorded when a parser succeeds but yields
	// nothing but whitespace.
	errNoText = errors.New("document contains no extractable text")
)

// IngestError reports a parse failure for a single uploaded file.
type IngestError struct {
	// Filename is the name the file was uploaded under.
	Filename string
	// Format is the resolved document format.
	Format Format
	// Cause is the underlying parser or I/O error.
	Cause error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestion: %s (%s): %v", e.Filename, e.Format, e.Cause)
}

func (e *IngestError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrIngestFailed) true for every IngestError.
func (e *IngestError) Is(target error) bool { return target == ErrIngestFailed }
