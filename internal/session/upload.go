package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/logging"
)

// ErrNothingStored is reported for a file whose every chunk failed to index.
var ErrNothingStored = errors.New("session: no chunks could be stored")

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

// FileResult reports what happened to one uploaded file.
type FileResult struct {
	Name string `json:"name"`
	// Segments is the number of pages or sections extracted.
	Segments int `json:"segments"`
	// Chunks is the number of chunks stored in the vector index.
	Chunks int `json:"chunks"`
	// Failed lists IDs of chunks the index could not store.
	Failed []string `json:"failed,omitempty"`
	// Err is set when the file was rejected or nothing could be stored.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the file was stored without any failure.
func (r *FileResult) OK() bool { return r.Err == nil && len(r.Failed) == 0 }

// UploadReport collects per-file results in upload order.
type UploadReport struct {
	Files []FileResult `json:"files"`
}

// Chunks returns the total number of chunks stored.
func (r *UploadReport) Chunks() int {
	n := 0
	for _, f := range r.Files {
		n += f.Chunks
	}
	return n
}

// Failures returns the number of files that were rejected or only partly
// stored.
func (r *UploadReport) Failures() int {
	n := 0
	for i := range r.Files {
		if !r.Files[i].OK() {
			n++
		}
	}
	return n
}

// Progress receives a human-readable line per processing step.
type Progress func(msg string)

// Upload ingests, splits and indexes each file independently. A file that
// is unsupported, fails to parse or cannot be stored is reported in its
// FileResult and does not stop the others. The error is non-nil only when
// ctx is cancelled.
func (s *Session) Upload(ctx context.Context, files []File) (*UploadReport, error) {
	return s.UploadWithProgress(ctx, files, nil)
}

// UploadWithProgress is Upload with a progress callback.
func (s *Session) UploadWithProgress(ctx context.Context, files []File, progress Progress) (*UploadReport, error) {
	if progress == nil {
		progress = func(string) {}
	}
	report := &UploadReport{Files: make([]FileResult, 0, len(files))}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		progress("parsing " + f.Name)
		segments, err := s.ingestor.Ingest(ctx, f.Data, f.Name)
		report.add(ctx, s.indexSegments(ctx, f.Name, segments, err, progress))
	}
	return report, nil
}

// UploadPaths is Upload for documents on local disk. Each path is reported
// under its base name; a path that cannot be read is reported like any
// other rejected file and the remaining paths are still indexed.
func (s *Session) UploadPaths(ctx context.Context, paths []string, progress Progress) (*UploadReport, error) {
	if progress == nil {
		progress = func(string) {}
	}
	report := &UploadReport{Files: make([]FileResult, 0, len(paths))}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		progress("parsing " + path)
		segments, err := s.ingestor.IngestFile(ctx, path)
		report.add(ctx, s.indexSegments(ctx, filepath.Base(path), segments, err, progress))
	}
	return report, nil
}

// add appends res, logging it at WARN when the file was rejected.
func (r *UploadReport) add(ctx context.Context, res FileResult) {
	if res.Err != nil {
		res.Error = res.Err.Error()
		logging.FromContext(ctx).Warn("session: upload failed",
			slog.String("file", res.Name),
			slog.Any("error", res.Err),
		)
	}
	r.Files = append(r.Files, res)
}

// indexSegments runs split → upsert for one file whose ingestion returned
// segments and ingestErr.
func (s *Session) indexSegments(ctx context.Context, name string, segments []ingestion.Segment, ingestErr error, progress Progress) FileResult {
	res := FileResult{Name: name}
	if ingestErr != nil {
		res.Err = ingestErr
		return res
	}
	res.Segments = len(segments)

	chunks := s.splitter.Split(segments)
	progress(fmt.Sprintf("split %s into %d chunks", name, len(chunks)))
	if len(chunks) == 0 {
		return res
	}

	up, err := s.index.Upsert(ctx, chunks)
	if up != nil {
		res.Chunks = up.Stored
		res.Failed = up.Failed
	}
	if err != nil {
		res.Err = err
		return res
	}
	if up.Stored == 0 {
		res.Err = ErrNothingStored
		return res
	}
	progress(fmt.Sprintf("indexed %d chunks from %s", up.Stored, name))
	return res
}
