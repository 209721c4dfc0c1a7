// Package embedder turns text into dense vectors for the rag index. Every
// backend is a langchaingo LLM client wrapped in an embeddings.Embedder, so
// batching and newline stripping behave the same regardless of provider.
package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
)

// Client implements rag.Embedder over a langchaingo embedder.
// It is safe for concurrent use.
type Client struct {
	// inner performs the provider calls.
	inner embeddings.Embedder
	// backend names the provider for logs and errors.
	backend string
	// model is the embedding model name.
	model string
	// dimensions is the expected vector length (0 = unchecked).
	dimensions int
}

// NewClient wraps an embeddings.Embedder. dimensions > 0 enables a length
// check on every returned vector.
func NewClient(inner embeddings.Embedder, backend, model string, dimensions int) *Client {
	return &Client{inner: inner, backend: backend, model: model, dimensions: dimensions}
}

// Backend returns the provider name (ollama, openai, azure).
func (c *Client) Backend() string { return c.backend }

// Model returns the embedding model name.
func (c *Client) Model() string { return c.model }

// Dimensions returns the expected vector length, or 0 when unknown.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed converts a batch of texts into vectors parallel to texts.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := c.inner.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s embedder: %w", c.backend, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%s embedder: expected %d embeddings, got %d", c.backend, len(texts), len(vecs))
	}
	for i, v := range vecs {
		if err := c.check(v); err != nil {
			return nil, fmt.Errorf("%s embedder: embedding %d: %w", c.backend, i, err)
		}
	}
	return vecs, nil
}

// EmbedQuery embeds a single search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s embedder: %w", c.backend, err)
	}
	if err := c.check(v); err != nil {
		return nil, fmt.Errorf("%s embedder: query: %w", c.backend, err)
	}
	return v, nil
}

func (c *Client) check(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("empty vector")
	}
	if c.dimensions > 0 && len(v) != c.dimensions {
		return fmt.Errorf("got %d dimensions, want %d (check EMBEDDING_DIMENSIONS)", len(v), c.dimensions)
	}
	return nil
}
