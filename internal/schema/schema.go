package schema

import "time"

// SourceKind tells where a document's content came from.
type SourceKind string

const (
	SourceRawText SourceKind = "raw-text"
	SourceURL     SourceKind = "url"
)

// Document is a unit of ingested content. It lives only for the duration of
// one ingest call; after chunking, the chunks carry everything downstream.
type Document struct {
	ID        string
	Source    SourceKind
	Title     string
	URL       string
	Text      string
	FetchedAt time.Time
}

// Chunk is the atomic retrievable unit: a bounded span of a document's text.
// The ID is a deterministic function of (document ID, start offset), which is
// what makes re-ingestion idempotent.
type Chunk struct {
	ID         string
	DocumentID string
	Ordinal    int
	Text       string
	Start      int
	End        int
}

// IndexEntry is what the vector index persists for one chunk.
type IndexEntry struct {
	ChunkID    string
	DocumentID string
	Source     SourceKind
	Ordinal    int
	Text       string
	Embedding  []float32
}

// SearchResult is one scored hit from a similarity query, ordered by
// descending score with ties broken by ascending chunk ID.
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	Ordinal    int     `json:"ordinal"`
}

// IngestSummary reports the outcome of one successful ingest call.
type IngestSummary struct {
	DocumentID string     `json:"document_id"`
	Source     SourceKind `json:"source"`
	Title      string     `json:"title,omitempty"`
	URL        string     `json:"url,omitempty"`
	ChunkCount int        `json:"chunk_count"`
	IngestedAt time.Time  `json:"ingested_at"`
}

// Answer is a generated response grounded in retrieved chunks. Citations
// list the chunk IDs whose text was actually included in the prompt context,
// in descending-score order.
type Answer struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
}
