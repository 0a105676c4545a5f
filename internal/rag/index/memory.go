package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/errs"
)

// Metric is the similarity function fixed for the lifetime of one index.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

// Memory is a thread-safe in-memory VectorIndex. The vector dimensionality
// is pinned by the first successful upsert; later entries that disagree fail
// the whole batch.
type Memory struct {
	metric Metric

	mu      sync.RWMutex
	dim     int
	entries map[string]schema.IndexEntry
}

// NewMemory creates an empty index with the given metric.
func NewMemory(metric Metric) (*Memory, error) {
	switch metric {
	case MetricCosine, MetricDot:
	case "":
		metric = MetricCosine
	default:
		return nil, errs.Stage("index", errs.ErrInvalidConfig, fmt.Errorf("unknown metric %q", metric))
	}
	return &Memory{metric: metric, entries: make(map[string]schema.IndexEntry)}, nil
}

// Upsert writes entries keyed by chunk ID, last write wins. The batch is
// validated up front so a dimension mismatch leaves the index untouched.
func (m *Memory) Upsert(ctx context.Context, entries []schema.IndexEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	deduped := dedupe(entries)

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	for _, e := range deduped {
		if len(e.Embedding) == 0 {
			return 0, errs.Stage("upsert", errs.ErrDimensionMismatch,
				fmt.Errorf("chunk %s has an empty embedding", e.ChunkID))
		}
		if dim == 0 {
			dim = len(e.Embedding)
			continue
		}
		if len(e.Embedding) != dim {
			return 0, errs.Stage("upsert", errs.ErrDimensionMismatch,
				fmt.Errorf("chunk %s has dimension %d, index uses %d", e.ChunkID, len(e.Embedding), dim))
		}
	}

	m.dim = dim
	for _, e := range deduped {
		m.entries[e.ChunkID] = e
	}
	return len(deduped), nil
}

// Query scores every entry and returns the top k, descending by score with
// ties broken by ascending chunk ID. An empty index yields an empty result.
func (m *Memory) Query(ctx context.Context, vector []float32, k int) ([]schema.SearchResult, error) {
	if k < 1 {
		return nil, errs.Stage("query", errs.ErrInvalidQuery, fmt.Errorf("k must be at least 1, got %d", k))
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if len(vector) != m.dim {
		return nil, errs.Stage("query", errs.ErrDimensionMismatch,
			fmt.Errorf("query vector has dimension %d, index uses %d", len(vector), m.dim))
	}

	results := make([]schema.SearchResult, 0, len(m.entries))
	for _, e := range m.entries {
		results = append(results, schema.SearchResult{
			ChunkID:    e.ChunkID,
			DocumentID: e.DocumentID,
			Score:      m.score(vector, e.Embedding),
			Text:       e.Text,
			Ordinal:    e.Ordinal,
		})
	}
	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DeleteByDocument removes every chunk belonging to the document.
func (m *Memory) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.entries {
		if e.DocumentID == documentID {
			delete(m.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many entries the index holds.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) score(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if m.metric == MetricDot {
		return float32(dot)
	}
	var na, nb float64
	for i := range a {
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// dedupe keeps the last entry per chunk ID, preserving first-seen order.
func dedupe(entries []schema.IndexEntry) []schema.IndexEntry {
	byID := make(map[string]int, len(entries))
	out := make([]schema.IndexEntry, 0, len(entries))
	for _, e := range entries {
		if i, seen := byID[e.ChunkID]; seen {
			out[i] = e
			continue
		}
		byID[e.ChunkID] = len(out)
		out = append(out, e)
	}
	return out
}

// SortResults orders hits by descending score, ascending chunk ID on ties.
func SortResults(results []schema.SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

var _ interfaces.VectorIndex = (*Memory)(nil)
