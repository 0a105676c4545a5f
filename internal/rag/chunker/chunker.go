package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/errs"
)

// CharChunker splits text into overlapping chunks of at most MaxSize
// characters. Consecutive chunks share exactly Overlap characters, except
// that the final chunk may be shorter than MaxSize.
type CharChunker struct {
	MaxSize int
	Overlap int
}

// NewCharChunker validates the window parameters.
func NewCharChunker(maxSize, overlap int) (*CharChunker, error) {
	if err := validateWindow(maxSize, overlap); err != nil {
		return nil, err
	}
	return &CharChunker{MaxSize: maxSize, Overlap: overlap}, nil
}

func validateWindow(maxSize, overlap int) error {
	if maxSize <= 0 {
		return errs.Stage("chunk", errs.ErrInvalidConfig, fmt.Errorf("max size must be positive, got %d", maxSize))
	}
	if overlap < 0 {
		return errs.Stage("chunk", errs.ErrInvalidConfig, fmt.Errorf("overlap must not be negative, got %d", overlap))
	}
	if overlap >= maxSize {
		return errs.Stage("chunk", errs.ErrInvalidConfig, fmt.Errorf("overlap %d must be smaller than max size %d", overlap, maxSize))
	}
	return nil
}

// Split walks the text in a sliding window, advancing by MaxSize-Overlap
// each step. Empty text yields zero chunks; text shorter than MaxSize yields
// exactly one chunk spanning the whole input.
func (c *CharChunker) Split(documentID, text string) ([]schema.Chunk, error) {
	if err := validateWindow(c.MaxSize, c.Overlap); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	step := c.MaxSize - c.Overlap

	var chunks []schema.Chunk
	for start, ordinal := 0, 0; start < n; start, ordinal = start+step, ordinal+1 {
		end := start + c.MaxSize
		if end > n {
			end = n
		}
		chunks = append(chunks, schema.Chunk{
			ID:         ChunkID(documentID, start),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       string(runes[start:end]),
			Start:      start,
			End:        end,
		})
		if end == n {
			break
		}
	}
	return chunks, nil
}

// ChunkID derives a stable chunk identifier from the document ID and the
// chunk's start offset. Re-chunking identical input yields identical IDs,
// which is what makes index upserts idempotent.
func ChunkID(documentID string, start int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s#%d", documentID, start)))
	return hex.EncodeToString(sum[:])[:16]
}

var _ interfaces.Splitter = (*CharChunker)(nil)
