package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/54b3r/docchat-go/internal/provider"
)

// ContextPinger is any dependency with a context-aware Ping, such as the
// vector stores and history stores.
type ContextPinger interface {
	Ping(ctx context.Context) error
}

// namedPinger labels a ContextPinger for readiness responses.
type namedPinger struct {
	name string
	p    ContextPinger
}

// NewNamedPinger adapts p into a Pinger reported as name.
func NewNamedPinger(name string, p ContextPinger) Pinger {
	return &namedPinger{name: name, p: p}
}

func (n *namedPinger) Name() string { return n.name }

func (n *namedPinger) Ping(ctx context.Context) error {
	if err := n.p.Ping(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// LLMPinger probes an LLM backend with a cheap model-listing request instead
// of a generate call, so readiness checks never consume tokens.
type LLMPinger struct {
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// url is the listing endpoint probed.
	url string
	// header carries the backend's credentials.
	header http.Header
	// client performs the probe.
	client *http.Client
}

// NewLLMPinger builds the probe for cfg.Backend.
func NewLLMPinger(cfg *provider.Config) (*LLMPinger, error) {
	p := &LLMPinger{
		name:   string(cfg.Backend),
		header: http.Header{},
		client: &http.Client{Timeout: probeTimeout},
	}
	switch cfg.Backend {
	case provider.BackendOllama:
		p.url = strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"
	case provider.BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		p.url = strings.TrimRight(base, "/") + "/models"
		p.header.Set("Authorization", "Bearer "+cfg.OpenAI.APIKey)
	case provider.BackendAzure:
		p.url = strings.TrimRight(cfg.AzureOpenAI.Endpoint, "/") +
			"/openai/models?api-version=" + url.QueryEscape(cfg.AzureOpenAI.APIVersion)
		p.header.Set("api-key", cfg.AzureOpenAI.APIKey)
	case provider.BackendGemini:
		p.url = "https://generativelanguage.googleapis.com/v1beta/models"
		p.header.Set("x-goog-api-key", cfg.Gemini.APIKey)
	case provider.BackendArk:
		base := cfg.Ark.BaseURL
		if base == "" {
			base = "https://ark.cn-beijing.volces.com/api/v3"
		}
		p.url = strings.TrimRight(base, "/") + "/models"
		p.header.Set("Authorization", "Bearer "+cfg.Ark.APIKey)
	default:
		return nil, fmt.Errorf("server: no readiness probe for backend %q", cfg.Backend)
	}
	return p, nil
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping issues the listing request. Server errors and rejected credentials
// fail the probe; any other response proves the backend is reachable.
func (p *LLMPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}
	req.Header = p.header.Clone()

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s rejected credentials: %s", p.name, resp.Status)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s unhealthy: %s after %s", p.name, resp.Status, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
