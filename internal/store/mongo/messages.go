package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// MessageStore persists processed-message records.
// The unique index on discordId is the exactly-once guard: a duplicate
// insert is swallowed, not surfaced.
type MessageStore struct {
	col *mongo.Collection
}

func (s *MessageStore) Get(ctx context.Context, sourceMessageID string) (*store.ProcessedMessage, error) {
	var m store.ProcessedMessage
	err := s.col.FindOne(ctx, bson.M{"discordId": sourceMessageID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find processed message: %w", err)
	}
	return &m, nil
}

func (s *MessageStore) Insert(ctx context.Context, m *store.ProcessedMessage) error {
	_, err := s.col.InsertOne(ctx, m)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert processed message: %w", err)
	}
	return nil
}

func (s *MessageStore) Update(ctx context.Context, m *store.ProcessedMessage) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"discordId": m.SourceMessageID},
		bson.M{"$set": bson.M{
			"mirrorMessageId": m.MirrorMessageID,
			"renderedContent": m.RenderedContent,
			"awaitingEmbed":   m.AwaitingEmbed,
		}},
	)
	if err != nil {
		return fmt.Errorf("update processed message: %w", err)
	}
	return nil
}

func (s *MessageStore) ExistingIDs(ctx context.Context, sourceMessageIDs []string) (map[string]bool, error) {
	if len(sourceMessageIDs) == 0 {
		return map[string]bool{}, nil
	}
	cur, err := s.col.Find(ctx,
		bson.M{"discordId": bson.M{"$in": sourceMessageIDs}},
	)
	if err != nil {
		return nil, fmt.Errorf("find existing ids: %w", err)
	}
	var rows []struct {
		ID string `bson:"discordId"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode existing ids: %w", err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.ID] = true
	}
	return out, nil
}

func (s *MessageStore) PurgeAll(ctx context.Context) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("purge processed messages: %w", err)
	}
	return res.DeletedCount, nil
}
