package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"ragserver/internal/rag/interfaces"
)

var _ interfaces.LLM = (*Ollama)(nil)

// Ollama generates text through a local or remote Ollama server. Chat is
// tried first; when the chat endpoint yields empty content the legacy
// generate endpoint is used as a fallback, since older models answer on one
// endpoint but not the other.
type Ollama struct {
	client *ollama.Client
	model  string
}

// NewOllama creates an Ollama generation client. baseURL defaults to the
// local server when empty.
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}
	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{client: ollama.NewClient(parsedURL, hc), model: model}, nil
}

// Generate produces a completion for the prompt.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false

	var chat strings.Builder
	err := o.client.Chat(ctx, &ollama.ChatRequest{
		Model:    o.model,
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}, func(resp ollama.ChatResponse) error {
		chat.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to chat with ollama: %w", err)
	}
	if text := strings.TrimSpace(chat.String()); text != "" {
		return text, nil
	}

	var gen strings.Builder
	err = o.client.Generate(ctx, &ollama.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}, func(resp ollama.GenerateResponse) error {
		gen.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate with ollama: %w", err)
	}
	text := strings.TrimSpace(gen.String())
	if text == "" {
		return "", fmt.Errorf("ollama returned empty content from both chat and generate")
	}
	return text, nil
}
