package embedder

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig holds the settings for an OpenAI or Azure OpenAI embedder.
type OpenAIConfig struct {
	// BaseURL is the API base URL. For OpenAI: "https://api.openai.com/v1".
	// For Azure: "https://<resource>.openai.azure.com".
	BaseURL string
	// APIKey is the authentication key. A leading "Bearer " is stripped.
	APIKey string
	// Model is the embedding model (Azure: the deployment name).
	Model string
	// Dimensions is the expected vector length (0 = unchecked).
	Dimensions int
	// BatchSize is the number of texts per provider request (0 = library default).
	BatchSize int
	// Azure selects Azure OpenAI auth and URL layout.
	Azure bool
	// APIVersion is the Azure OpenAI API version. Ignored when Azure is false.
	APIVersion string
}

// NewOpenAIEmbedder constructs a Client backed by the langchaingo OpenAI LLM.
func NewOpenAIEmbedder(cfg *OpenAIConfig) (*Client, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(cfg.APIKey, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	backend := "openai"
	if cfg.Azure {
		backend = "azure"
		opts = append(opts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(cfg.APIVersion),
		)
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%s embedder: init client: %w", backend, err)
	}
	inner, err := embeddings.NewEmbedder(llm, batchOptions(cfg.BatchSize)...)
	if err != nil {
		return nil, fmt.Errorf("%s embedder: %w", backend, err)
	}
	return NewClient(inner, backend, cfg.Model, cfg.Dimensions), nil
}

// batchOptions maps a configured batch size onto embedder options.
func batchOptions(size int) []embeddings.Option {
	if size <= 0 {
		return nil
	}
	return []embeddings.Option{embeddings.WithBatchSize(size)}
}
