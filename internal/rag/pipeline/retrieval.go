package pipeline

import (
	"context"
	"fmt"
	"strings"

	"ragserver/internal/rag/embedder"
	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

// Retriever embeds a query and runs a k-NN search against the index. Hits
// below MinScore are filtered out; retry lives entirely in the embedder.
type Retriever struct {
	embedder *embedder.Adapter
	index    interfaces.VectorIndex
	minScore float32
	log      *logger.Logger
}

// NewRetriever creates a retriever. minScore of 0 keeps every hit.
func NewRetriever(emb *embedder.Adapter, index interfaces.VectorIndex, minScore float32, log *logger.Logger) (*Retriever, error) {
	if emb == nil || index == nil {
		return nil, errs.Stage("search", errs.ErrInvalidConfig,
			fmt.Errorf("retriever requires an embedder and an index"))
	}
	if log == nil {
		log = logger.New("retriever", "")
	}
	return &Retriever{embedder: emb, index: index, minScore: minScore, log: log}, nil
}

// Search returns up to k scored chunks for the query text, best first.
func (r *Retriever) Search(ctx context.Context, query string, k int) ([]schema.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.Stage("search", errs.ErrInvalidQuery, fmt.Errorf("query must not be empty"))
	}
	if k < 1 {
		return nil, errs.Stage("search", errs.ErrInvalidQuery, fmt.Errorf("k must be at least 1, got %d", k))
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Query(ctx, vectors[0], k)
	if err != nil {
		return nil, err
	}

	if r.minScore > 0 {
		kept := hits[:0]
		for _, h := range hits {
			if h.Score >= r.minScore {
				kept = append(kept, h)
			}
		}
		hits = kept
	}

	r.log.WithField("k", k).Debugf("search returned %d hit(s)", len(hits))
	return hits, nil
}
