package chunker

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/errs"
)

// encodingName is the BPE used by gpt-4, gpt-3.5-turbo and the
// text-embedding models.
const encodingName = "cl100k_base"

// TokenChunker splits text by token count instead of characters, using the
// same sliding-window walk as CharChunker. Chunk IDs are still derived from
// the chunk's character start offset so both modes are idempotent.
type TokenChunker struct {
	MaxTokens     int
	OverlapTokens int
	tokenizer     *tiktoken.Tiktoken
}

// NewTokenChunker validates the window parameters and loads the tokenizer.
func NewTokenChunker(maxTokens, overlapTokens int) (*TokenChunker, error) {
	if err := validateWindow(maxTokens, overlapTokens); err != nil {
		return nil, err
	}
	tke, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TokenChunker{MaxTokens: maxTokens, OverlapTokens: overlapTokens, tokenizer: tke}, nil
}

// Split produces chunks of at most MaxTokens tokens with OverlapTokens
// tokens shared between neighbors.
func (c *TokenChunker) Split(documentID, text string) ([]schema.Chunk, error) {
	if err := validateWindow(c.MaxTokens, c.OverlapTokens); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if c.tokenizer == nil {
		return nil, errs.Stage("chunk", errs.ErrInvalidConfig, fmt.Errorf("tokenizer not initialized"))
	}

	tokens := c.tokenizer.Encode(text, nil, nil)
	n := len(tokens)
	step := c.MaxTokens - c.OverlapTokens

	var chunks []schema.Chunk
	for start, ordinal := 0, 0; start < n; start, ordinal = start+step, ordinal+1 {
		end := start + c.MaxTokens
		if end > n {
			end = n
		}
		// Character offset of the chunk is the decoded length of everything
		// before it, which is deterministic for a fixed encoding.
		charStart := len([]rune(c.tokenizer.Decode(tokens[:start])))
		chunkText := c.tokenizer.Decode(tokens[start:end])
		chunks = append(chunks, schema.Chunk{
			ID:         ChunkID(documentID, charStart),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       chunkText,
			Start:      charStart,
			End:        charStart + len([]rune(chunkText)),
		})
		if end == n {
			break
		}
	}
	return chunks, nil
}

var _ interfaces.Splitter = (*TokenChunker)(nil)
