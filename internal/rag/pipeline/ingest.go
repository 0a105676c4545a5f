package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"ragserver/internal/rag/embedder"
	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

// Fetcher turns a URL into a normalized document. Satisfied by the web loader.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (schema.Document, error)
}

// Notifier receives a message after every successful ingest. Satisfied by the
// Kafka event publisher.
type Notifier interface {
	PublishIngest(ctx context.Context, summary schema.IngestSummary) error
}

// Deps wires the ingestion pipeline. Splitter, Embedder, Index and Log are
// required; Loader is required only for URL ingestion; Docs and Events are
// optional side channels.
type Deps struct {
	Splitter interfaces.Splitter
	Embedder *embedder.Adapter
	Index    interfaces.VectorIndex
	Loader   Fetcher
	Docs     interfaces.DocStore
	Events   Notifier
	Log      *logger.Logger
}

// Pipeline runs acquire, normalize, chunk, embed and upsert as one unit. A
// failure at any stage reports that stage and leaves no partial state beyond
// what the index's batch-atomic upsert already wrote.
type Pipeline struct {
	deps Deps
}

// New validates the wiring and returns a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Splitter == nil || deps.Embedder == nil || deps.Index == nil {
		return nil, errs.Stage("ingest", errs.ErrInvalidConfig,
			fmt.Errorf("pipeline requires a splitter, an embedder and an index"))
	}
	if deps.Log == nil {
		deps.Log = logger.New("pipeline", "")
	}
	return &Pipeline{deps: deps}, nil
}

// DocumentIDFromURL derives a stable document ID from a source URL.
func DocumentIDFromURL(url string) string {
	sum := sha1.Sum([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// IngestText chunks, embeds and indexes caller-supplied text under the given
// document ID. Re-ingesting the same ID overwrites its chunks in place.
func (p *Pipeline) IngestText(ctx context.Context, documentID, text string) (schema.IngestSummary, error) {
	if strings.TrimSpace(documentID) == "" {
		return schema.IngestSummary{}, errs.Stage("ingest", errs.ErrInvalidConfig,
			fmt.Errorf("document ID must not be empty"))
	}
	doc := schema.Document{
		ID:        documentID,
		Source:    schema.SourceRawText,
		Text:      text,
		FetchedAt: time.Now().UTC(),
	}
	return p.ingest(ctx, doc)
}

// IngestURL fetches the URL, extracts readable text and ingests it under an
// ID derived from the URL, so re-ingesting the same page stays idempotent.
func (p *Pipeline) IngestURL(ctx context.Context, url string) (schema.IngestSummary, error) {
	if p.deps.Loader == nil {
		return schema.IngestSummary{}, errs.Stage("fetch", errs.ErrInvalidConfig,
			fmt.Errorf("no document loader configured"))
	}
	doc, err := p.deps.Loader.Fetch(ctx, url)
	if err != nil {
		return schema.IngestSummary{}, err
	}
	doc.ID = DocumentIDFromURL(url)
	return p.ingest(ctx, doc)
}

// DeleteDocument removes every indexed chunk of the document, and its stored
// record when a document store is wired.
func (p *Pipeline) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	removed, err := p.deps.Index.DeleteByDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if p.deps.Docs != nil {
		if err := p.deps.Docs.DeleteDocument(ctx, documentID); err != nil {
			p.deps.Log.WithError(err).Warnf("failed to delete document record %s", documentID)
		}
	}
	p.deps.Log.WithField("document_id", documentID).Infof("deleted %d chunk(s)", removed)
	return removed, nil
}

func (p *Pipeline) ingest(ctx context.Context, doc schema.Document) (schema.IngestSummary, error) {
	log := p.deps.Log.WithField("document_id", doc.ID)

	chunks, err := p.deps.Splitter.Split(doc.ID, doc.Text)
	if err != nil {
		return schema.IngestSummary{}, err
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := p.deps.Embedder.Embed(ctx, texts)
		if err != nil {
			return schema.IngestSummary{}, err
		}

		entries := make([]schema.IndexEntry, len(chunks))
		for i, c := range chunks {
			entries[i] = schema.IndexEntry{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Source:     doc.Source,
				Ordinal:    c.Ordinal,
				Text:       c.Text,
				Embedding:  vectors[i],
			}
		}
		if _, err := p.deps.Index.Upsert(ctx, entries); err != nil {
			return schema.IngestSummary{}, err
		}
	}

	summary := schema.IngestSummary{
		DocumentID: doc.ID,
		Source:     doc.Source,
		Title:      doc.Title,
		URL:        doc.URL,
		ChunkCount: len(chunks),
		IngestedAt: time.Now().UTC(),
	}

	// Side channels are best-effort: the chunks are already queryable, so a
	// store or broker outage downgrades to a warning.
	if p.deps.Docs != nil {
		if err := p.deps.Docs.UpsertDocument(ctx, doc); err != nil {
			log.WithError(err).Warn("failed to upsert document record")
		}
	}
	if p.deps.Events != nil {
		if err := p.deps.Events.PublishIngest(ctx, summary); err != nil {
			log.WithError(err).Warn("failed to publish ingest event")
		}
	}

	log.Infof("ingested %d chunk(s) from %s source", len(chunks), doc.Source)
	return summary, nil
}
