package audit

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoStorage persists audit entries to a MongoDB collection.
type MongoStorage struct {
	coll *mongo.Collection
}

// NewMongoStorage returns a storage writing to the "billing_audit"
// collection of the given database.
func NewMongoStorage(db *mongo.Database) *MongoStorage {
	return &MongoStorage{coll: db.Collection("billing_audit")}
}

func (s *MongoStorage) Store(ctx context.Context, entry Entry) error {
	doc := bson.M{
		"_id":           entry.ID,
		"actor":         entry.Actor,
		"action":        entry.Action,
		"account_id":    entry.AccountID.String(),
		"status_before": entry.StatusBefore,
		"status_after":  entry.StatusAfter,
		"created_at":    entry.CreatedAt,
	}
	if entry.Provider != "" {
		doc["provider"] = entry.Provider
	}
	if entry.SourceEventID != "" {
		doc["source_event_id"] = entry.SourceEventID
	}
	if len(entry.Metadata) > 0 {
		doc["metadata"] = entry.Metadata
	}
	_, err := s.coll.InsertOne(ctx, doc)
	return err
}
