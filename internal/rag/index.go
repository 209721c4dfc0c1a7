package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/splitter"
)

const (
	// DefaultTopK is the number of matches returned when the caller passes k <= 0.
	DefaultTopK = 4
	// DefaultBatchSize is the number of chunks embedded per call.
	DefaultBatchSize = 32
	// DefaultCollection is the collection name used when none is configured.
	DefaultCollection = "docs_rag"
)

// IndexConfig holds the Index settings.
type IndexConfig struct {
	// Collection names the vector namespace. Defaults to DefaultCollection.
	Collection string
	// BatchSize is the number of chunks embedded per call. Defaults to DefaultBatchSize.
	BatchSize int
	// TopK is the match count used when Search is called with k <= 0.
	// Defaults to DefaultTopK.
	TopK int
	// Dimensions, when positive, rejects vectors of any other length.
	Dimensions int
}

// UpsertResult reports the outcome of an Upsert call.
type UpsertResult struct {
	// Collection is the collection the chunks were written to.
	Collection string
	// Stored is the number of chunks persisted.
	Stored int
	// Failed lists the IDs of chunks that could not be embedded or stored.
	Failed []string
}

// Index embeds chunks into a VectorStore and answers similarity queries.
// It is safe for concurrent use when the underlying store is.
type Index struct {
	// embedder converts chunk and query text to vectors.
	embedder Embedder
	// store persists and searches the vectors.
	store VectorStore
	// cfg holds the resolved configuration.
	cfg IndexConfig
	// unavailable is non-nil when the index runs in degraded mode.
	unavailable error
}

// NewIndex constructs an Index from the given Embedder and VectorStore.
func NewIndex(embedder Embedder, store VectorStore, cfg *IndexConfig) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &Index{embedder: embedder, store: store, cfg: resolve(cfg)}, nil
}

// NewDegradedIndex returns an Index whose searches are always empty and whose
// upserts fail with ErrStoreUnavailable. cause is kept for Err.
func NewDegradedIndex(cfg *IndexConfig, cause error) *Index {
	if cause == nil {
		cause = errors.New("vector backend disabled")
	}
	return &Index{
		store:       Unavailable{},
		cfg:         resolve(cfg),
		unavailable: fmt.Errorf("%w: %w", ErrStoreUnavailable, cause),
	}
}

func resolve(cfg *IndexConfig) IndexConfig {
	var c IndexConfig
	if cfg != nil {
		c = *cfg
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	return c
}

// Degraded reports whether the index is running without a vector backend.
func (x *Index) Degraded() bool { return x.unavailable != nil }

// Err returns the construction failure that put the index into degraded
// mode, or nil. It always matches ErrStoreUnavailable when non-nil.
func (x *Index) Err() error { return x.unavailable }

// Collection returns the collection name.
func (x *Index) Collection() string { return x.cfg.Collection }

// TopK returns the default match count.
func (x *Index) TopK() int { return x.cfg.TopK }

// Store returns the underlying backend.
func (x *Index) Store() VectorStore { return x.store }

// Close releases the backend.
func (x *Index) Close() error { return x.store.Close() }

// Upsert embeds and stores chunks in batches. When a batch fails it is
// retried one chunk at a time so a single bad chunk cannot sink the rest;
// chunks that still fail are listed in the result. The returned error is
// non-nil only when the index is degraded or ctx is cancelled.
func (x *Index) Upsert(ctx context.Context, chunks []splitter.Chunk) (*UpsertResult, error) {
	res := &UpsertResult{Collection: x.cfg.Collection}
	if x.unavailable != nil {
		return res, x.unavailable
	}
	log := logging.FromContext(ctx)

	for start := 0; start < len(chunks); start += x.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := chunks[start:min(start+x.cfg.BatchSize, len(chunks))]

		err := x.upsertBatch(ctx, batch)
		if err == nil {
			res.Stored += len(batch)
			continue
		}
		log.Warn("rag: batch upsert failed, retrying per chunk",
			slog.Int("batch_start", start),
			slog.Int("batch_size", len(batch)),
			slog.Any("error", err),
		)

		for _, c := range batch {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := x.upsertBatch(ctx, []splitter.Chunk{c}); err != nil {
				log.Warn("rag: chunk upsert failed",
					slog.String("chunk_id", c.ID),
					slog.String("source", c.SourceID),
					slog.Any("error", err),
				)
				res.Failed = append(res.Failed, c.ID)
				continue
			}
			res.Stored++
		}
	}
	return res, nil
}

func (x *Index) upsertBatch(ctx context.Context, batch []splitter.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("rag: embed: %w", err)
	}
	if len(vecs) != len(batch) {
		return fmt.Errorf("rag: embedder returned %d vectors for %d chunks", len(vecs), len(batch))
	}
	if x.cfg.Dimensions > 0 {
		for i, v := range vecs {
			if len(v) != x.cfg.Dimensions {
				return fmt.Errorf("rag: chunk %s: vector has %d dimensions, collection uses %d",
					batch[i].ID, len(v), x.cfg.Dimensions)
			}
		}
	}

	docs := make([]Document, len(batch))
	for i, c := range batch {
		docs[i] = documentFor(c)
	}
	if err := x.store.Upsert(ctx, docs, vecs); err != nil {
		return fmt.Errorf("rag: store: %w", err)
	}
	return nil
}

// Search embeds query and returns up to k matches ordered by decreasing
// similarity. k <= 0 uses the configured TopK. A degraded index returns an
// empty slice and no error.
func (x *Index) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if x.unavailable != nil || strings.TrimSpace(query) == "" {
		return []Match{}, nil
	}
	if k <= 0 {
		k = x.cfg.TopK
	}

	vec, err := x.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	docs, err := x.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		matches = append(matches, matchFor(d))
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// embedQuery encodes query with EmbedQuery when the embedder supports it,
// otherwise as a one-element Embed batch.
func (x *Index) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if qe, ok := x.embedder.(QueryEmbedder); ok {
		vec, err := qe.EmbedQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("rag: embedding query failed: %w", err)
		}
		return vec, nil
	}

	vecs, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	return vecs[0], nil
}

// Delete removes chunks by ID.
func (x *Index) Delete(ctx context.Context, ids []string) error {
	if x.unavailable != nil {
		return x.unavailable
	}
	return x.store.Delete(ctx, ids)
}

func documentFor(c splitter.Chunk) Document {
	return Document{
		ID:      c.ID,
		Content: c.Text,
		Source:  c.SourceID,
		Metadata: map[string]string{
			MetaPage:       strconv.Itoa(c.Page),
			MetaOffset:     strconv.Itoa(c.SourceOffset),
			MetaChunkIndex: strconv.Itoa(c.Index),
		},
	}
}

func matchFor(d Document) Match {
	page, _ := strconv.Atoi(d.Metadata[MetaPage])
	return Match{ID: d.ID, Text: d.Content, Source: d.Source, Page: page, Score: d.Score}
}
