package embedding

import (
	"context"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"ragserver/internal/rag/interfaces"
)

var _ interfaces.EmbeddingModel = (*OpenAIModel)(nil)

// OpenAIModel generates embeddings through the OpenAI embeddings API.
type OpenAIModel struct {
	client *openai.Client
	model  string
}

// NewOpenAIModel creates an OpenAI embedding client. baseURL may be empty to
// use the public endpoint, or point at a compatible server.
func NewOpenAIModel(model, apiKey, baseURL string) (*OpenAIModel, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}, nil
}

// EmbedBatch embeds a batch of texts in a single API call, preserving order.
func (m *OpenAIModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(resp.Data))
	}
	embeddings := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}
