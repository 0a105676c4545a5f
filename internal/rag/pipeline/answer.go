package pipeline

import (
	"context"
	"fmt"
	"strings"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/circuitbreaker"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

const noContextMarker = "no context available"

// Synthesizer answers questions grounded in retrieved chunks. The prompt
// context is assembled from whole chunks in descending-score order up to a
// character budget; a chunk that does not fit is dropped, never truncated.
type Synthesizer struct {
	retriever       *Retriever
	llm             interfaces.LLM
	breaker         *circuitbreaker.Breaker
	history         interfaces.HistoryStore
	maxContextChars int
	log             *logger.Logger
}

// SynthesizerOptions configures the optional collaborators.
type SynthesizerOptions struct {
	Breaker         *circuitbreaker.Breaker
	History         interfaces.HistoryStore
	MaxContextChars int
}

// NewSynthesizer creates a synthesizer over a retriever and a generative
// model.
func NewSynthesizer(retriever *Retriever, llm interfaces.LLM, opts SynthesizerOptions, log *logger.Logger) (*Synthesizer, error) {
	if retriever == nil || llm == nil {
		return nil, errs.Stage("ask", errs.ErrInvalidConfig,
			fmt.Errorf("synthesizer requires a retriever and a generative model"))
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 4000
	}
	if log == nil {
		log = logger.New("synthesizer", "")
	}
	return &Synthesizer{
		retriever:       retriever,
		llm:             llm,
		breaker:         opts.Breaker,
		history:         opts.History,
		maxContextChars: opts.MaxContextChars,
		log:             log,
	}, nil
}

// Ask retrieves up to k chunks for the query, builds a budgeted prompt and
// returns the generated answer with the chunk IDs that grounded it. The
// retrieved hits are returned alongside so callers can expose sources.
func (s *Synthesizer) Ask(ctx context.Context, query string, k int) (schema.Answer, []schema.SearchResult, error) {
	hits, err := s.retriever.Search(ctx, query, k)
	if err != nil {
		return schema.Answer{}, nil, err
	}

	contextText, citations := s.buildContext(hits)
	prompt := buildPrompt(contextText, query)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return schema.Answer{}, nil, errs.Stage("generate", errs.ErrGenerationFailed, err)
	}

	answer := schema.Answer{Text: text, Citations: citations}

	if s.history != nil {
		if err := s.history.LogInteraction(ctx, query, answer, hits); err != nil {
			s.log.WithError(err).Warn("failed to log interaction")
		}
	}
	return answer, hits, nil
}

func (s *Synthesizer) generate(ctx context.Context, prompt string) (string, error) {
	if s.breaker == nil {
		return s.llm.Generate(ctx, prompt)
	}
	var text string
	err := s.breaker.Execute(func() error {
		var genErr error
		text, genErr = s.llm.Generate(ctx, prompt)
		return genErr
	})
	return text, err
}

// buildContext concatenates whole chunk texts, best score first, stopping at
// the first chunk that would overflow the budget. Only included chunks are
// cited.
func (s *Synthesizer) buildContext(hits []schema.SearchResult) (string, []string) {
	var sb strings.Builder
	citations := make([]string, 0, len(hits))
	for _, h := range hits {
		sep := 0
		if sb.Len() > 0 {
			sep = 2
		}
		if sb.Len()+sep+len(h.Text) > s.maxContextChars {
			break
		}
		if sep > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(h.Text)
		citations = append(citations, h.ChunkID)
	}
	return sb.String(), citations
}

func buildPrompt(contextText, query string) string {
	if contextText == "" {
		contextText = noContextMarker
	}
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. Answer the question using only the context below.\n")
	sb.WriteString("If the context does not contain the answer, say that you don't know.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(contextText)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}
