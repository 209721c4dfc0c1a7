package provider

import (
	"context"
	"fmt"
	"strings"

	einoark "github.com/cloudwego/eino-ext/components/model/ark"
	einogemini "github.com/cloudwego/eino-ext/components/model/gemini"
	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// build dispatches to the backend constructor selected by cfg.Backend.
func build(ctx context.Context, cfg *Config, modelID string) (model.BaseChatModel, error) {
	switch cfg.Backend {
	case BackendOllama:
		return newOllama(ctx, cfg, modelID)
	case BackendOpenAI:
		return newOpenAI(ctx, cfg, modelID)
	case BackendAzure:
		return newAzure(ctx, cfg, modelID)
	case BackendGemini:
		return newGemini(ctx, cfg, modelID)
	case BackendArk:
		return newArk(ctx, cfg, modelID)
	default:
		return nil, fmt.Errorf("provider: unknown backend %q", cfg.Backend)
	}
}

// newOllama constructs a chat model backed by a local Ollama instance.
func newOllama(ctx context.Context, cfg *Config, modelID string) (model.BaseChatModel, error) {
	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
		BaseURL: cfg.Ollama.Host,
		Model:   modelID,
	})
}

// newOpenAI constructs a chat model backed by the OpenAI API.
func newOpenAI(ctx context.Context, cfg *Config, modelID string) (model.BaseChatModel, error) {
	mc := &einoopenai.ChatModelConfig{
		Model:   modelID,
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
	}
	applyTuning(mc, cfg.Tuning, modelID)
	return einoopenai.NewChatModel(ctx, mc) //nolint:wrapcheck // constructor passthrough
}

// newAzure constructs a chat model backed by Azure OpenAI Service. The model
// ID is used as the deployment name.
func newAzure(ctx context.Context, cfg *Config, modelID string) (model.BaseChatModel, error) {
	mc := &einoopenai.ChatModelConfig{
		Model:      modelID,
		APIKey:     cfg.AzureOpenAI.APIKey,
		BaseURL:    cfg.AzureOpenAI.Endpoint,
		ByAzure:    true,
		APIVersion: cfg.AzureOpenAI.APIVersion,
		// Use the deployment name as-is; the default mapper strips dots/colons
		// which breaks deployment names like "gpt-4.1".
		AzureModelMapperFunc: func(model string) string { return model },
	}
	applyTuning(mc, cfg.Tuning, modelID)
	return einoopenai.NewChatModel(ctx, mc) //nolint:wrapcheck // constructor passthrough
}

// applyTuning sets max tokens and temperature, which reasoning models reject.
func applyTuning(mc *einoopenai.ChatModelConfig, t SharedTuning, modelID string) {
	if isReasoningModel(modelID) {
		return
	}
	maxTokens := t.MaxTokens
	temp := t.Temperature
	mc.MaxTokens = &maxTokens
	mc.Temperature = &temp
}

// isReasoningModel reports whether modelID names an o-series or codex-class
// model, matched by prefix and case-insensitively.
func isReasoningModel(modelID string) bool {
	id := strings.ToLower(modelID)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// newGemini constructs a chat model backed by Google Gemini (AI Studio).
func newGemini(ctx context.Context, cfg *Config, modelID string) (model.BaseChatModel, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: failed to create Gemini client: %w", err)
	}
	return einogemini.NewChatModel(ctx, &einogemini.Config{ //nolint:wrapcheck // constructor passthrough
		Client: client,
		Model:  modelID,
	})
}

// newArk constructs a chat model backed by Volcengine Ark.
func newArk(ctx context.Context, cfg *Config, modelID string) (model.BaseChatModel, error) {
	maxTokens := cfg.Tuning.MaxTokens
	temp := cfg.Tuning.Temperature
	return einoark.NewChatModel(ctx, &einoark.ChatModelConfig{ //nolint:wrapcheck // constructor passthrough
		Model:       modelID,
		APIKey:      cfg.Ark.APIKey,
		BaseURL:     cfg.Ark.BaseURL,
		MaxTokens:   &maxTokens,
		Temperature: &temp,
	})
}
