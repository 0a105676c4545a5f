package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"

	"ragserver/internal/rag/interfaces"
)

var _ interfaces.EmbeddingModel = (*OllamaModel)(nil)

// OllamaModel generates embeddings through a local or remote Ollama server.
type OllamaModel struct {
	client *ollama.Client
	model  string
}

// NewOllamaModel creates an Ollama embedding client. baseURL defaults to the
// local server when empty.
func NewOllamaModel(model, baseURL string) (*OllamaModel, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}
	hc := &http.Client{Timeout: 120 * time.Second}
	return &OllamaModel{
		client: ollama.NewClient(parsedURL, hc),
		model:  model,
	}, nil
}

// EmbedBatch embeds a batch of texts with Ollama's native batch endpoint.
func (m *OllamaModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.Embed(ctx, &ollama.EmbedRequest{
		Model: m.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get batch embeddings from ollama: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}
