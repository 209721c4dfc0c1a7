package rag

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemConfig holds the settings for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persisted collections. Empty keeps
	// everything in memory.
	Path string
	// Compress gzips persisted documents.
	Compress bool
	// Collection is the collection name.
	Collection string
}

// ChromemStore implements VectorStore on an embedded chromem-go database.
// Vectors are normalised by chromem on insert and query, so similarity is
// cosine.
type ChromemStore struct {
	db  *chromem.DB
	col *chromem.Collection

	// mu guards dims.
	mu sync.Mutex
	// dims is the vector length of the collection, fixed by the first insert.
	dims int
}

// NewChromemStore opens (or creates) the configured collection.
func NewChromemStore(cfg *ChromemConfig) (*ChromemStore, error) {
	name := cfg.Collection
	if name == "" {
		name = DefaultCollection
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("chromem: open %s: %w", cfg.Path, err)
		}
	}

	// Documents always carry embeddings, so no embedding func is needed.
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %q: %w", name, err)
	}
	return &ChromemStore{db: db, col: col}, nil
}

// Upsert adds or replaces documents. A vector whose length differs from the
// collection's fails the call.
func (s *ChromemStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("chromem: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	if err := s.checkDims(embeddings); err != nil {
		return err
	}

	out := make([]chromem.Document, len(docs))
	for i, d := range docs {
		meta := make(map[string]string, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["source"] = d.Source
		out[i] = chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Metadata:  meta,
			Embedding: embeddings[i],
		}
	}
	if err := s.col.AddDocuments(ctx, out, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) checkDims(embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dims
	for _, e := range embeddings {
		if dims == 0 {
			dims = len(e)
		}
		if len(e) != dims {
			return fmt.Errorf("chromem: vector has %d dimensions, collection uses %d", len(e), dims)
		}
	}
	s.dims = dims
	return nil
}

// Search returns up to topK nearest documents. chromem rejects a result
// count larger than the collection, so it is clamped first.
func (s *ChromemStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	n := min(topK, s.col.Count())
	if n <= 0 {
		return []Document{}, nil
	}

	results, err := s.col.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			if k != "source" {
				meta[k] = v
			}
		}
		docs = append(docs, Document{
			ID:       r.ID,
			Content:  r.Content,
			Source:   r.Metadata["source"],
			Metadata: meta,
			Score:    r.Similarity,
		})
	}
	return docs, nil
}

// Delete removes documents by ID.
func (s *ChromemStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem: delete: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count() int { return s.col.Count() }

// Ping always succeeds; the store is in-process.
func (s *ChromemStore) Ping(context.Context) error { return nil }

// Close is a no-op; persistent collections are written on every insert.
func (s *ChromemStore) Close() error { return nil }
