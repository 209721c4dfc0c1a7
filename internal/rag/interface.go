// Package rag stores chunk embeddings and retrieves the chunks most similar
// to a question. Index is the entry point: it pairs an Embedder with a
// VectorStore backend (pgvector, Qdrant, chromem) and degrades to an empty
// result set when no backend could be reached.
package rag

import (
	"context"
	"errors"
)

// ErrStoreUnavailable reports that the vector backend could not be reached
// or is not configured.
var ErrStoreUnavailable = errors.New("rag: vector store unavailable")

// Metadata keys written alongside every stored chunk.
const (
	MetaPage       = "page"
	MetaOffset     = "offset"
	MetaChunkIndex = "chunk_index"
)

// Document is one stored chunk.
type Document struct {
	// ID is the chunk UUID.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the filename the chunk came from.
	Source string

	// Metadata holds page, offset and chunk index as strings.
	Metadata map[string]string

	// Score is the cosine similarity assigned during retrieval.
	// Zero value means the score was not computed.
	Score float32
}

// Match is one search hit returned by Index.Search.
type Match struct {
	// ID is the chunk UUID.
	ID string
	// Text is the chunk content.
	Text string
	// Source is the originating filename.
	Source string
	// Page is the 1-based page or section, 0 when unknown.
	Page int
	// Score is the cosine similarity; higher is closer.
	Score float32
}

// VectorStore is the interface for persisting and searching document embeddings.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed embeddings.
	// embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns up to topK documents ordered by decreasing cosine
	// similarity to queryEmbedding.
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vectors.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbedder is implemented by embedders that encode search queries
// differently from stored documents. Index.Search prefers it over Embed.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}
