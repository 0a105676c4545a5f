package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/schema"
	"ragserver/pkg/logger"
)

var _ interfaces.DocStore = (*MongoDocumentStore)(nil)

// documentRecord is the Mongo shape of a stored document. The document ID is
// the _id, so re-ingesting the same document updates in place instead of
// creating duplicates.
type documentRecord struct {
	ID        string    `bson:"_id"`
	Source    string    `bson:"source"`
	Title     string    `bson:"title,omitempty"`
	URL       string    `bson:"url,omitempty"`
	Text      string    `bson:"text"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoDocumentStore persists raw document records in a Mongo collection.
type MongoDocumentStore struct {
	collection *mongo.Collection
	log        *logger.Logger
}

// NewMongoDocumentStore creates a document store over the given collection.
func NewMongoDocumentStore(db *mongo.Database, collectionName string, log *logger.Logger) *MongoDocumentStore {
	return &MongoDocumentStore{
		collection: db.Collection(collectionName),
		log:        log,
	}
}

// UpsertDocument writes the document keyed by its ID. created_at is set only
// on first insert; updated_at moves on every write.
func (s *MongoDocumentStore) UpsertDocument(ctx context.Context, doc schema.Document) error {
	now := time.Now().UTC()
	set := bson.M{
		"source":     string(doc.Source),
		"text":       doc.Text,
		"updated_at": now,
	}
	if doc.Title != "" {
		set["title"] = doc.Title
	}
	if doc.URL != "" {
		set["url"] = doc.URL
	}
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	s.log.WithField("document_id", doc.ID).Debug("document record upserted")
	return nil
}

// DeleteDocument removes the stored record for the given document ID. Deleting
// an unknown ID is not an error.
func (s *MongoDocumentStore) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": documentID})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}
