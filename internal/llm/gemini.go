package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"ragserver/internal/rag/interfaces"
)

var _ interfaces.LLM = (*Gemini)(nil)

// Gemini generates text through the Google GenAI API.
type Gemini struct {
	model *genai.GenerativeModel
}

// NewGemini creates a Gemini generation client.
func NewGemini(modelName, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{model: client.GenerativeModel(modelName)}, nil
}

// Generate produces a completion for the prompt and flattens the text parts
// of the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}
