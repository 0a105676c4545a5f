package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"ragserver/internal/rag/chunker"
	"ragserver/internal/rag/embedder"
	"ragserver/internal/rag/index"
	"ragserver/internal/rag/interfaces"
	"ragserver/internal/rag/loaders"
	"ragserver/internal/schema"
	"ragserver/pkg/circuitbreaker"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
	"ragserver/pkg/resilience"
)

func testLog() *logger.Logger {
	logger.Init(logger.ParseLevel("error"))
	return logger.New("pipeline-test", "")
}

// termModel embeds text as a bag-of-words vector over hashed terms, so that
// texts sharing words score higher under cosine similarity.
type termModel struct{ dim int }

func (m termModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, m.dim)
		for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return r < 'a' || r > 'z'
		}) {
			h := fnv.New32a()
			h.Write([]byte(word))
			v[h.Sum32()%uint32(m.dim)]++
		}
		out[i] = v
	}
	return out, nil
}

// vectorModel returns a fixed vector per exact text, for tests that need
// controlled scores.
type vectorModel struct{ vectors map[string][]float32 }

func (m vectorModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := m.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out[i] = v
	}
	return out, nil
}

type failingModel struct{ calls int }

func (m *failingModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	return nil, embedder.ErrTransient
}

type echoLLM struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (l *echoLLM) Generate(ctx context.Context, prompt string) (string, error) {
	l.mu.Lock()
	l.prompts = append(l.prompts, prompt)
	l.mu.Unlock()
	if l.err != nil {
		return "", l.err
	}
	return "generated answer", nil
}

type recordingDocStore struct {
	mu      sync.Mutex
	docs    map[string]schema.Document
	deleted []string
}

func newRecordingDocStore() *recordingDocStore {
	return &recordingDocStore{docs: make(map[string]schema.Document)}
}

func (s *recordingDocStore) UpsertDocument(ctx context.Context, doc schema.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
	return nil
}

func (s *recordingDocStore) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	s.deleted = append(s.deleted, documentID)
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []schema.IngestSummary
}

func (n *recordingNotifier) PublishIngest(ctx context.Context, summary schema.IngestSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return nil
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []interfaces.Interaction
}

func (h *recordingHistory) LogInteraction(ctx context.Context, question string, answer schema.Answer, hits []schema.SearchResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, interfaces.Interaction{Question: question, Answer: answer.Text})
	return nil
}

func (h *recordingHistory) Recent(ctx context.Context, limit int) ([]interfaces.Interaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries, nil
}

func buildPipeline(t *testing.T, model interfaces.EmbeddingModel, metric index.Metric) (*Pipeline, *index.Memory, *embedder.Adapter) {
	t.Helper()
	log := testLog()
	split, err := chunker.NewCharChunker(500, 50)
	if err != nil {
		t.Fatalf("chunker: %v", err)
	}
	emb, err := embedder.New(model, embedder.Config{
		Retry: resilience.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, log)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	idx, err := index.NewMemory(metric)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	p, err := New(Deps{Splitter: split, Embedder: emb, Index: idx, Log: log})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p, idx, emb
}

func TestIngestTextIsIdempotent(t *testing.T) {
	p, idx, _ := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)

	text := strings.Repeat("Vector databases store embeddings for retrieval. ", 30)
	first, err := p.IngestText(context.Background(), "doc-1", text)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	sizeAfterFirst := idx.Len()

	second, err := p.IngestText(context.Background(), "doc-1", text)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if idx.Len() != sizeAfterFirst {
		t.Errorf("re-ingest grew the index from %d to %d entries", sizeAfterFirst, idx.Len())
	}
	if first.ChunkCount != second.ChunkCount {
		t.Errorf("chunk count drifted: %d then %d", first.ChunkCount, second.ChunkCount)
	}
}

func TestIngestTextEmptyID(t *testing.T) {
	p, _, _ := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	if _, err := p.IngestText(context.Background(), "  ", "some text"); !errors.Is(err, errs.ErrInvalidConfig) {
		t.Fatalf("want ErrInvalidConfig, got %v", err)
	}
}

func TestIngestTextEmptyTextYieldsZeroChunks(t *testing.T) {
	p, idx, _ := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	summary, err := p.IngestText(context.Background(), "doc-empty", "   ")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.ChunkCount != 0 || idx.Len() != 0 {
		t.Errorf("empty text produced %d chunks, index size %d", summary.ChunkCount, idx.Len())
	}
}

func TestIngestEmbedFailureLeavesNoPartialState(t *testing.T) {
	model := &failingModel{}
	p, idx, _ := buildPipeline(t, model, index.MetricCosine)

	_, err := p.IngestText(context.Background(), "doc-1", strings.Repeat("text to embed ", 100))
	if !errors.Is(err, errs.ErrEmbeddingUnavailable) {
		t.Fatalf("want ErrEmbeddingUnavailable, got %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("failed ingest left %d entries in the index", idx.Len())
	}
	if model.calls < 2 {
		t.Errorf("transient failure retried %d time(s), want at least 2 attempts", model.calls)
	}
}

func TestIngestURLDerivesStableID(t *testing.T) {
	page := "<html><head><title>Qdrant</title></head><body><p>" +
		strings.Repeat("Qdrant is a vector database for embeddings. ", 10) + "</p></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	log := testLog()
	p, idx, _ := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	docs := newRecordingDocStore()
	events := &recordingNotifier{}
	p.deps.Loader = loaders.NewWebLoader(log)
	p.deps.Docs = docs
	p.deps.Events = events

	summary, err := p.IngestURL(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	wantID := DocumentIDFromURL(srv.URL)
	if summary.DocumentID != wantID {
		t.Errorf("document ID = %q, want %q", summary.DocumentID, wantID)
	}
	if len(wantID) != 16 {
		t.Errorf("derived ID %q is not 16 hex chars", wantID)
	}
	if summary.Title != "Qdrant" {
		t.Errorf("title = %q", summary.Title)
	}
	if idx.Len() == 0 {
		t.Error("no chunks indexed")
	}
	if _, ok := docs.docs[wantID]; !ok {
		t.Error("document record not stored")
	}
	if len(events.summaries) != 1 {
		t.Errorf("published %d event(s), want 1", len(events.summaries))
	}
}

func TestIngestURLFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	p, idx, _ := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	p.deps.Loader = loaders.NewWebLoader(testLog())

	if _, err := p.IngestURL(context.Background(), srv.URL); !errors.Is(err, errs.ErrFetchFailed) {
		t.Fatalf("want ErrFetchFailed, got %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("failed fetch left %d entries in the index", idx.Len())
	}
}

func TestSearchFindsRelevantChunk(t *testing.T) {
	p, idx, emb := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)

	docs := map[string]string{
		"doc-qdrant": "Qdrant is a vector database for embeddings.",
		"doc-cats":   "Cats sleep through most of the afternoon.",
		"doc-bread":  "Sourdough bread needs a well fed starter.",
	}
	for id, text := range docs {
		if _, err := p.IngestText(context.Background(), id, text); err != nil {
			t.Fatalf("ingest %s: %v", id, err)
		}
	}

	const relevanceFloor = 0.2
	r, err := NewRetriever(emb, idx, relevanceFloor, testLog())
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}
	hits, err := r.Search(context.Background(), "What is a vector database?", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits returned")
	}
	if hits[0].DocumentID != "doc-qdrant" {
		t.Errorf("top hit = %q, want doc-qdrant (score %v)", hits[0].DocumentID, hits[0].Score)
	}
	if hits[0].Score <= relevanceFloor {
		t.Errorf("top score %v not above relevance floor %v", hits[0].Score, relevanceFloor)
	}
}

func TestSearchValidation(t *testing.T) {
	_, idx, emb := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	r, err := NewRetriever(emb, idx, 0, testLog())
	if err != nil {
		t.Fatalf("retriever: %v", err)
	}
	if _, err := r.Search(context.Background(), "  ", 3); !errors.Is(err, errs.ErrInvalidQuery) {
		t.Errorf("empty query: want ErrInvalidQuery, got %v", err)
	}
	if _, err := r.Search(context.Background(), "question", 0); !errors.Is(err, errs.ErrInvalidQuery) {
		t.Errorf("k=0: want ErrInvalidQuery, got %v", err)
	}
}

func TestAskAgainstEmptyIndex(t *testing.T) {
	_, idx, emb := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	r, _ := NewRetriever(emb, idx, 0, testLog())
	llm := &echoLLM{}
	s, err := NewSynthesizer(r, llm, SynthesizerOptions{}, testLog())
	if err != nil {
		t.Fatalf("synthesizer: %v", err)
	}

	answer, hits, err := s.Ask(context.Background(), "anything at all?", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(answer.Citations) != 0 || len(hits) != 0 {
		t.Errorf("empty index produced citations %v and %d hit(s)", answer.Citations, len(hits))
	}
	if len(llm.prompts) != 1 || !strings.Contains(llm.prompts[0], noContextMarker) {
		t.Errorf("prompt missing %q marker: %v", noContextMarker, llm.prompts)
	}
}

func TestAskBudgetDropsWholeChunks(t *testing.T) {
	vectors := map[string][]float32{
		"best chunk text here":   {3},
		"second chunk text here": {2},
		"third chunk text here":  {1},
		"which chunks fit?":      {1},
	}
	log := testLog()
	emb, err := embedder.New(vectorModel{vectors: vectors}, embedder.Config{}, log)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	idx, _ := index.NewMemory(index.MetricDot)
	entries := []schema.IndexEntry{
		{ChunkID: "c-best", DocumentID: "d", Text: "best chunk text here", Embedding: []float32{3}},
		{ChunkID: "c-second", DocumentID: "d", Text: "second chunk text here", Embedding: []float32{2}},
		{ChunkID: "c-third", DocumentID: "d", Text: "third chunk text here", Embedding: []float32{1}},
	}
	if _, err := idx.Upsert(context.Background(), entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	r, _ := NewRetriever(emb, idx, 0, log)
	llm := &echoLLM{}
	// Budget fits the two best chunks plus separator, not the third.
	s, err := NewSynthesizer(r, llm, SynthesizerOptions{MaxContextChars: 45}, log)
	if err != nil {
		t.Fatalf("synthesizer: %v", err)
	}

	answer, _, err := s.Ask(context.Background(), "which chunks fit?", 3)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	want := []string{"c-best", "c-second"}
	if len(answer.Citations) != len(want) {
		t.Fatalf("citations = %v, want %v", answer.Citations, want)
	}
	for i := range want {
		if answer.Citations[i] != want[i] {
			t.Fatalf("citations = %v, want %v", answer.Citations, want)
		}
	}
	if strings.Contains(llm.prompts[0], "third chunk") {
		t.Error("dropped chunk leaked into the prompt")
	}
}

func TestAskGenerationFailure(t *testing.T) {
	_, idx, emb := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	r, _ := NewRetriever(emb, idx, 0, testLog())
	llm := &echoLLM{err: errors.New("model overloaded")}
	s, _ := NewSynthesizer(r, llm, SynthesizerOptions{}, testLog())

	if _, _, err := s.Ask(context.Background(), "a question", 3); !errors.Is(err, errs.ErrGenerationFailed) {
		t.Fatalf("want ErrGenerationFailed, got %v", err)
	}
}

func TestAskOpenBreakerSurfacesAsGenerationFailure(t *testing.T) {
	_, idx, emb := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	r, _ := NewRetriever(emb, idx, 0, testLog())
	llm := &echoLLM{err: errors.New("model overloaded")}
	breaker := circuitbreaker.New(1, 1, time.Minute)
	s, _ := NewSynthesizer(r, llm, SynthesizerOptions{Breaker: breaker}, testLog())

	// First call trips the breaker, second short-circuits without reaching
	// the model.
	s.Ask(context.Background(), "first", 3)
	callsBefore := len(llm.prompts)
	_, _, err := s.Ask(context.Background(), "second", 3)
	if !errors.Is(err, errs.ErrGenerationFailed) {
		t.Fatalf("want ErrGenerationFailed, got %v", err)
	}
	if len(llm.prompts) != callsBefore {
		t.Error("open breaker still reached the model")
	}
}

func TestAskLogsHistory(t *testing.T) {
	_, idx, emb := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	r, _ := NewRetriever(emb, idx, 0, testLog())
	llm := &echoLLM{}
	history := &recordingHistory{}
	s, _ := NewSynthesizer(r, llm, SynthesizerOptions{History: history}, testLog())

	if _, _, err := s.Ask(context.Background(), "what happened?", 3); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if len(history.entries) != 1 || history.entries[0].Question != "what happened?" {
		t.Errorf("history entries = %+v", history.entries)
	}
}

func TestDeleteDocumentRemovesChunks(t *testing.T) {
	p, idx, _ := buildPipeline(t, termModel{dim: 64}, index.MetricCosine)
	docs := newRecordingDocStore()
	p.deps.Docs = docs

	if _, err := p.IngestText(context.Background(), "doc-1", strings.Repeat("chunked content ", 100)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	before := idx.Len()
	if before == 0 {
		t.Fatal("nothing indexed")
	}

	removed, err := p.DeleteDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if removed != before || idx.Len() != 0 {
		t.Errorf("removed %d of %d entries, %d left", removed, before, idx.Len())
	}
	if len(docs.deleted) != 1 || docs.deleted[0] != "doc-1" {
		t.Errorf("document record deletions = %v", docs.deleted)
	}
}
