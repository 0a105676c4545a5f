package llm

import (
	"fmt"

	"ragserver/internal/config"
	"ragserver/internal/rag/interfaces"
	"ragserver/pkg/errs"
)

// NewClient builds the generation client named by the configuration.
func NewClient(cfg config.LLMConfig) (interfaces.LLM, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.OpenAI.Model, cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	case "ollama":
		return NewOllama(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	case "gemini":
		return NewGemini(cfg.Gemini.Model, cfg.Gemini.APIKey)
	default:
		return nil, errs.Stage("config", errs.ErrInvalidConfig,
			fmt.Errorf("unsupported LLM provider: %q", cfg.Provider))
	}
}
