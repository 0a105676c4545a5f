package index

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"ragserver/internal/database/milvus"
	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

// Collection field names used by the Milvus-backed index.
const (
	FieldChunkID    = "chunk_id"
	FieldDocumentID = "document_id"
	FieldSource     = "source"
	FieldOrdinal    = "ordinal"
	FieldText       = "text"
	FieldEmbedding  = "embedding"
)

// MilvusIndex implements VectorIndex over a Milvus collection. The expected
// dimension and metric come from configuration and are enforced client-side
// before any write, so a mismatched batch never reaches the store.
type MilvusIndex struct {
	log        *logger.Logger
	client     client.Client
	collection string
	dim        int
	metric     Metric
}

// NewMilvus creates the index adapter over an established Milvus connection.
func NewMilvus(mc *milvus.Client, collection string, dim int, metric Metric, log *logger.Logger) (*MilvusIndex, error) {
	if mc == nil || mc.Conn == nil {
		return nil, errs.Stage("index", errs.ErrInvalidConfig, fmt.Errorf("milvus client is not initialized"))
	}
	if dim <= 0 {
		return nil, errs.Stage("index", errs.ErrInvalidConfig, fmt.Errorf("vector dimension must be positive, got %d", dim))
	}
	switch metric {
	case MetricCosine, MetricDot:
	case "":
		metric = MetricCosine
	default:
		return nil, errs.Stage("index", errs.ErrInvalidConfig, fmt.Errorf("unknown metric %q", metric))
	}
	return &MilvusIndex{log: log, client: mc.Conn, collection: collection, dim: dim, metric: metric}, nil
}

// MilvusMetricType maps an index metric to its Milvus equivalent.
func MilvusMetricType(m Metric) entity.MetricType {
	if m == MetricDot {
		return entity.IP
	}
	return entity.COSINE
}

func (s *MilvusIndex) metricType() entity.MetricType {
	return MilvusMetricType(s.metric)
}

// Upsert writes the batch in one call; Milvus guarantees atomicity per
// request, which gives the all-or-nothing contract.
func (s *MilvusIndex) Upsert(ctx context.Context, entries []schema.IndexEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	deduped := dedupe(entries)
	for _, e := range deduped {
		if len(e.Embedding) != s.dim {
			return 0, errs.Stage("upsert", errs.ErrDimensionMismatch,
				fmt.Errorf("chunk %s has dimension %d, index uses %d", e.ChunkID, len(e.Embedding), s.dim))
		}
	}

	ids := make([]string, len(deduped))
	docIDs := make([]string, len(deduped))
	sources := make([]string, len(deduped))
	ordinals := make([]int64, len(deduped))
	texts := make([]string, len(deduped))
	vectors := make([][]float32, len(deduped))
	for i, e := range deduped {
		ids[i] = e.ChunkID
		docIDs[i] = e.DocumentID
		sources[i] = string(e.Source)
		ordinals[i] = int64(e.Ordinal)
		texts[i] = e.Text
		vectors[i] = e.Embedding
	}

	s.log.Infof("upserting %d entries into milvus collection %s", len(deduped), s.collection)
	_, err := s.client.Upsert(ctx, s.collection, "",
		entity.NewColumnVarChar(FieldChunkID, ids),
		entity.NewColumnVarChar(FieldDocumentID, docIDs),
		entity.NewColumnVarChar(FieldSource, sources),
		entity.NewColumnInt64(FieldOrdinal, ordinals),
		entity.NewColumnVarChar(FieldText, texts),
		entity.NewColumnFloatVector(FieldEmbedding, s.dim, vectors),
	)
	if err != nil {
		return 0, errs.Stage("upsert", errs.ErrIndexWriteFailed, err)
	}
	return len(deduped), nil
}

// Query searches the collection and re-sorts client-side so ordering (and
// tie-breaking by chunk ID) stays deterministic regardless of store
// internals.
func (s *MilvusIndex) Query(ctx context.Context, vector []float32, k int) ([]schema.SearchResult, error) {
	if k < 1 {
		return nil, errs.Stage("query", errs.ErrInvalidQuery, fmt.Errorf("k must be at least 1, got %d", k))
	}
	if len(vector) != s.dim {
		return nil, errs.Stage("query", errs.ErrDimensionMismatch,
			fmt.Errorf("query vector has dimension %d, index uses %d", len(vector), s.dim))
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(10)
	outputFields := []string{FieldChunkID, FieldDocumentID, FieldOrdinal, FieldText}
	searchResults, err := s.client.Search(
		ctx, s.collection, nil, "", outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		FieldEmbedding, s.metricType(), k, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	var results []schema.SearchResult
	for _, res := range searchResults {
		idCol, ok := findColumn(res.Fields, FieldChunkID).(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		docCol, _ := findColumn(res.Fields, FieldDocumentID).(*entity.ColumnVarChar)
		ordCol, _ := findColumn(res.Fields, FieldOrdinal).(*entity.ColumnInt64)
		textCol, _ := findColumn(res.Fields, FieldText).(*entity.ColumnVarChar)

		for i := 0; i < res.ResultCount; i++ {
			r := schema.SearchResult{ChunkID: idCol.Data()[i], Score: res.Scores[i]}
			if docCol != nil {
				r.DocumentID = docCol.Data()[i]
			}
			if ordCol != nil {
				r.Ordinal = int(ordCol.Data()[i])
			}
			if textCol != nil {
				r.Text = textCol.Data()[i]
			}
			results = append(results, r)
		}
	}
	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// DeleteByDocument counts then removes every chunk of the document.
func (s *MilvusIndex) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	expr := fmt.Sprintf("%s == %q", FieldDocumentID, documentID)

	cols, err := s.client.Query(ctx, s.collection, nil, expr, []string{FieldChunkID})
	if err != nil {
		return 0, fmt.Errorf("milvus query failed: %w", err)
	}
	count := 0
	if idCol, ok := findColumn(cols, FieldChunkID).(*entity.ColumnVarChar); ok {
		count = len(idCol.Data())
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.client.Delete(ctx, s.collection, "", expr); err != nil {
		return 0, errs.Stage("delete", errs.ErrIndexWriteFailed, err)
	}
	s.log.Infof("deleted %d entries for document %s", count, documentID)
	return count, nil
}

func findColumn(fields []entity.Column, name string) entity.Column {
	for _, f := range fields {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

var _ interfaces.VectorIndex = (*MilvusIndex)(nil)
