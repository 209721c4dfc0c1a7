package embedder

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig holds the settings for an Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Dimensions is the expected vector length (0 = unchecked).
	Dimensions int
	// BatchSize is the number of texts per request (0 = library default).
	BatchSize int
}

// NewOllamaEmbedder constructs a Client backed by a local Ollama server.
// No API key is required.
func NewOllamaEmbedder(cfg *OllamaConfig) (*Client, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.Host),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: init client: %w", err)
	}
	inner, err := embeddings.NewEmbedder(llm, batchOptions(cfg.BatchSize)...)
	if err != nil {
		return nil, fmt.Errorf("ollama embedder: %w", err)
	}
	return NewClient(inner, "ollama", cfg.Model, cfg.Dimensions), nil
}
