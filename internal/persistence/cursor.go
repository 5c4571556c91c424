package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// LoadArchiveCursor returns the last archived trade timestamp for the
// named archiver, or the zero time if none has run yet. Adapted from the
// teacher's archiver, which keeps its cursor as a small state document
// rather than scanning the trades collection on every run.
func (s *Store) LoadArchiveCursor(ctx context.Context, name string) (time.Time, error) {
	var doc struct {
		Cursor time.Time `bson:"cursor"`
	}
	err := s.db.Collection(collEngineState).FindOne(ctx, bson.M{"key": "archive_cursor:" + name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load archive cursor: %w", err)
	}
	return doc.Cursor, nil
}

// SaveArchiveCursor persists the archiver's progress so a restart resumes
// instead of re-uploading already-archived trades.
func (s *Store) SaveArchiveCursor(ctx context.Context, name string, cursor time.Time) error {
	filter := bson.M{"key": "archive_cursor:" + name}
	update := bson.M{"$set": bson.M{"key": "archive_cursor:" + name, "cursor": cursor}}
	_, err := s.db.Collection(collEngineState).UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save archive cursor: %w", err)
	}
	return nil
}
