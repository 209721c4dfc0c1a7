package embedder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

// fakeEmbedder implements embeddings.Embedder with canned output.
type fakeEmbedder struct {
	dims int
	err  error
	drop bool
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for i := range texts {
		if f.drop && i == len(texts)-1 {
			break
		}
		out = append(out, make([]float32, f.dims))
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dims), nil
}

func TestClient_Embed(t *testing.T) {
	t.Parallel()

	c := NewClient(&fakeEmbedder{dims: 4}, "ollama", "nomic-embed-text", 4)
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 4 {
		t.Fatalf("unexpected shape: %d vectors", len(vecs))
	}

	q, err := c.EmbedQuery(context.Background(), "query")
	if err != nil || len(q) != 4 {
		t.Fatalf("EmbedQuery = %d dims, %v", len(q), err)
	}
}

func TestClient_Embed_Empty(t *testing.T) {
	t.Parallel()
	c := NewClient(&fakeEmbedder{err: errors.New("must not be called")}, "ollama", "m", 0)
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("Embed(nil) = %v, %v", vecs, err)
	}
}

func TestClient_Embed_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		inner   *fakeEmbedder
		dims    int
		wantSub string
	}{
		{"provider error", &fakeEmbedder{err: errors.New("503")}, 0, "503"},
		{"short response", &fakeEmbedder{dims: 4, drop: true}, 0, "expected 2 embeddings, got 1"},
		{"dimension mismatch", &fakeEmbedder{dims: 3}, 4, "got 3 dimensions, want 4"},
		{"empty vector", &fakeEmbedder{dims: 0}, 0, "empty vector"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := NewClient(tc.inner, "openai", "m", tc.dims)
			_, err := c.Embed(context.Background(), []string{"a", "b"})
			if err == nil || !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("Embed error = %v, want substring %q", err, tc.wantSub)
			}
			if !strings.HasPrefix(err.Error(), "openai embedder:") {
				t.Errorf("error not prefixed with backend: %v", err)
			}
		})
	}
}

func TestNewFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		wantBackend string
		wantModel   string
		wantDims    int
		wantErr     string
	}{
		{
			name:        "defaults to ollama",
			env:         map[string]string{},
			wantBackend: "ollama",
			wantModel:   "nomic-embed-text",
			wantDims:    768,
		},
		{
			name:        "inherits openai from MODEL_PROVIDER",
			env:         map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "sk-test"},
			wantBackend: "openai",
			wantModel:   "text-embedding-3-small",
			wantDims:    1536,
		},
		{
			name:        "chat-only provider falls back to ollama",
			env:         map[string]string{"MODEL_PROVIDER": "gemini"},
			wantBackend: "ollama",
			wantModel:   "nomic-embed-text",
			wantDims:    768,
		},
		{
			name: "azure with overrides",
			env: map[string]string{
				"EMBEDDING_PROVIDER":   "azure",
				"EMBEDDING_API_KEY":    "k",
				"EMBEDDING_ENDPOINT":   "https://example.openai.azure.com",
				"EMBEDDING_MODEL":      "embed-deploy",
				"EMBEDDING_DIMENSIONS": "3072",
			},
			wantBackend: "azure",
			wantModel:   "embed-deploy",
			wantDims:    3072,
		},
		{
			name:    "openai without key",
			env:     map[string]string{"EMBEDDING_PROVIDER": "openai"},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "azure without endpoint",
			env:     map[string]string{"EMBEDDING_PROVIDER": "azure", "AZURE_OPENAI_API_KEY": "k"},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"EMBEDDING_PROVIDER": "bedrock"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			c, err := NewFromEnv()
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("NewFromEnv error = %v, want substring %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFromEnv: %v", err)
			}
			if c.Backend() != tc.wantBackend || c.Model() != tc.wantModel || c.Dimensions() != tc.wantDims {
				t.Errorf("got (%s, %s, %d), want (%s, %s, %d)",
					c.Backend(), c.Model(), c.Dimensions(), tc.wantBackend, tc.wantModel, tc.wantDims)
			}
		})
	}
}

func TestBatchSize(t *testing.T) {
	t.Setenv("EMBEDDING_BATCH_SIZE", "")
	if got := BatchSize(); got != DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", got, DefaultBatchSize)
	}
	t.Setenv("EMBEDDING_BATCH_SIZE", "8")
	if got := BatchSize(); got != 8 {
		t.Errorf("BatchSize() = %d, want 8", got)
	}
}

func TestValidateForRAG(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		wantErr  bool
		wantWarn string
	}{
		{"disabled backend skips checks", map[string]string{"VECTOR_BACKEND": "disabled", "EMBEDDING_PROVIDER": "openai"}, false, ""},
		{"ollama needs nothing", map[string]string{"VECTOR_BACKEND": "pgvector"}, false, ""},
		{"openai missing key", map[string]string{"EMBEDDING_PROVIDER": "openai"}, true, ""},
		{"azure missing endpoint", map[string]string{"EMBEDDING_PROVIDER": "azure", "EMBEDDING_API_KEY": "k"}, true, ""},
		{"inherited provider warns", map[string]string{"MODEL_PROVIDER": "openai", "OPENAI_API_KEY": "k"}, false, "inheriting MODEL_PROVIDER"},
		{"chat model warns", map[string]string{"EMBEDDING_MODEL": "llama3:8b"}, false, "looks like a chat model"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEmbeddingEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			var buf bytes.Buffer
			log := slog.New(slog.NewTextHandler(&buf, nil))

			err := ValidateForRAG(log)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateForRAG error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantWarn != "" && !strings.Contains(buf.String(), tc.wantWarn) {
				t.Errorf("log %q missing %q", buf.String(), tc.wantWarn)
			}
		})
	}
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	for model, want := range map[string]bool{
		"nomic-embed-text":       false,
		"text-embedding-3-small": false,
		"gpt-4o-mini":            true,
		"Mistral-7B":             true,
	} {
		if got := looksLikeChatModel(model); got != want {
			t.Errorf("looksLikeChatModel(%q) = %v, want %v", model, got, want)
		}
	}
}

// clearEmbeddingEnv blanks every variable the factory reads.
func clearEmbeddingEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"VECTOR_BACKEND", "MODEL_PROVIDER", "EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT", "EMBEDDING_DIMENSIONS", "EMBEDDING_BATCH_SIZE",
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT",
		"AZURE_OPENAI_API_VERSION", "OLLAMA_HOST",
	} {
		t.Setenv(k, "")
	}
}
