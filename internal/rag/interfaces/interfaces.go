package interfaces

import (
	"context"

	"ragserver/internal/schema"
)

// EmbeddingModel is the capability interface for a text embedding model:
// batch of texts in, batch of fixed-dimension vectors out, same order.
type EmbeddingModel interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// LLM is the capability interface for a generative model.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VectorIndex is the capability interface for the vector store. Upsert is
// idempotent by chunk ID and all-or-nothing per batch; Query returns at most
// k results ordered by descending score with ties broken by ascending chunk
// ID; DeleteByDocument removes every chunk of one document.
type VectorIndex interface {
	Upsert(ctx context.Context, entries []schema.IndexEntry) (int, error)
	Query(ctx context.Context, vector []float32, k int) ([]schema.SearchResult, error)
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
}

// Splitter turns a document's normalized text into ordered chunks.
type Splitter interface {
	Split(documentID, text string) ([]schema.Chunk, error)
}

// DocStore persists raw document records keyed by document ID.
type DocStore interface {
	UpsertDocument(ctx context.Context, doc schema.Document) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// HistoryStore records question/answer interactions.
type HistoryStore interface {
	LogInteraction(ctx context.Context, question string, answer schema.Answer, hits []schema.SearchResult) error
	Recent(ctx context.Context, limit int) ([]Interaction, error)
}

// Interaction is one recorded question/answer exchange.
type Interaction struct {
	ID        string                `bson:"_id,omitempty" json:"id"`
	Question  string                `bson:"question" json:"question"`
	Answer    string                `bson:"answer" json:"answer"`
	Citations []string              `bson:"citations" json:"citations"`
	Sources   []InteractionSource   `bson:"sources" json:"sources"`
	CreatedAt int64                 `bson:"created_at" json:"created_at"`
}

// InteractionSource is one retrieved chunk recorded with an interaction.
type InteractionSource struct {
	ChunkID string  `bson:"chunk_id" json:"chunk_id"`
	Score   float32 `bson:"score" json:"score"`
	Text    string  `bson:"text" json:"text"`
}
