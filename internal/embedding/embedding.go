package embedding

import (
	"fmt"

	"ragserver/internal/config"
	"ragserver/internal/rag/interfaces"
	"ragserver/pkg/errs"
)

// NewModel builds the embedding client named by the configuration. The
// returned model satisfies the batch-embedding capability used by the
// ingestion and retrieval paths.
func NewModel(cfg config.EmbeddingConfig) (interfaces.EmbeddingModel, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIModel(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	case "ollama":
		return NewOllamaModel(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	case "gemini":
		return NewGeminiModel(cfg.Gemini.Model, cfg.Gemini.APIKey)
	default:
		return nil, errs.Stage("config", errs.ErrInvalidConfig,
			fmt.Errorf("unsupported embedding provider: %q", cfg.Provider))
	}
}
