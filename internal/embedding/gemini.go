package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"ragserver/internal/rag/interfaces"
)

var _ interfaces.EmbeddingModel = (*GeminiModel)(nil)

// GeminiModel generates embeddings through the Google GenAI API.
type GeminiModel struct {
	model *genai.EmbeddingModel
}

// NewGeminiModel creates a Gemini embedding client.
func NewGeminiModel(modelName, apiKey string) (*GeminiModel, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiModel{model: client.EmbeddingModel(modelName)}, nil
}

// EmbedBatch embeds a batch of texts with one batched API call.
func (m *GeminiModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	batch := m.model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	res, err := m.model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to batch embed contents: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), len(res.Embeddings))
	}
	embeddings := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}
