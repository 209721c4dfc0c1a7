//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestOllamaEmbedder_Integration embeds two sentences through a locally
// running Ollama instance.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb, err := NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model})
	if err != nil {
		t.Fatalf("NewOllamaEmbedder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"Invoices are submitted through the finance portal.",
		"The office is closed on public holidays.",
	}

	embeddings, err := emb.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", err, model, model)
	}
	if len(embeddings) != len(texts) {
		t.Fatalf("expected %d embeddings, got %d", len(texts), len(embeddings))
	}

	identical := len(embeddings[0]) == len(embeddings[1])
	for j := 0; identical && j < len(embeddings[0]); j++ {
		identical = embeddings[0][j] == embeddings[1][j]
	}
	if identical {
		t.Error("embeddings are identical, model may not be working correctly")
	}

	// Log the dimension so the caller can confirm it matches the vector column.
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d)", model, len(embeddings[0]), len(embeddings[0]))
}
