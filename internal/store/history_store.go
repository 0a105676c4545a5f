package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/logger"
)

var _ interfaces.HistoryStore = (*MongoHistoryStore)(nil)

// MongoHistoryStore records question/answer interactions in a Mongo collection.
type MongoHistoryStore struct {
	collection *mongo.Collection
	log        *logger.Logger
}

// NewMongoHistoryStore creates a history store over the given collection.
func NewMongoHistoryStore(db *mongo.Database, collectionName string, log *logger.Logger) *MongoHistoryStore {
	return &MongoHistoryStore{
		collection: db.Collection(collectionName),
		log:        log,
	}
}

// LogInteraction stores one exchange with the retrieved chunks that grounded it.
func (s *MongoHistoryStore) LogInteraction(ctx context.Context, question string, answer schema.Answer, hits []schema.SearchResult) error {
	sources := make([]interfaces.InteractionSource, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, interfaces.InteractionSource{
			ChunkID: h.ChunkID,
			Score:   h.Score,
			Text:    h.Text,
		})
	}
	record := interfaces.Interaction{
		ID:        uuid.NewString(),
		Question:  question,
		Answer:    answer.Text,
		Citations: answer.Citations,
		Sources:   sources,
		CreatedAt: time.Now().UTC().Unix(),
	}
	if _, err := s.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to log interaction: %w", err)
	}
	s.log.WithField("question", truncate(question, 80)).Debug("interaction logged")
	return nil
}

// Recent returns up to limit interactions, newest first.
func (s *MongoHistoryStore) Recent(ctx context.Context, limit int) ([]interfaces.Interaction, error) {
	if limit <= 0 {
		limit = 20
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer cursor.Close(ctx)

	var records []interfaces.Interaction
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode interactions: %w", err)
	}
	return records, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
