package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"ragserver/internal/schema"
)

// IngestEventTopic receives one event per successful ingest.
const IngestEventTopic = "ingest_events"

// IngestEvent is the payload published after a document lands in the index.
type IngestEvent struct {
	DocumentID string            `json:"document_id"`
	Source     schema.SourceKind `json:"source"`
	URL        string            `json:"url,omitempty"`
	ChunkCount int               `json:"chunk_count"`
	IngestedAt time.Time         `json:"ingested_at"`
}

// EventPublisher writes ingest events to Kafka.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher creates a publisher for the ingest event topic.
func NewEventPublisher(brokers []string) *EventPublisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        IngestEventTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return &EventPublisher{writer: writer}
}

// PublishIngest serializes the ingest outcome and writes it keyed by
// document ID.
func (p *EventPublisher) PublishIngest(ctx context.Context, summary schema.IngestSummary) error {
	event := IngestEvent{
		DocumentID: summary.DocumentID,
		Source:     summary.Source,
		URL:        summary.URL,
		ChunkCount: summary.ChunkCount,
		IngestedAt: summary.IngestedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ingest event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.DocumentID),
		Value: data,
	})
	if err != nil {
		return fmt.Errorf("failed to write ingest event to kafka: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
