package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// LogStore persists operator log rows and role-mention records.
type LogStore struct {
	logs     *mongo.Collection
	mentions *mongo.Collection
}

func (s *LogStore) Append(ctx context.Context, e *store.LogEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if _, err := s.logs.InsertOne(ctx, e); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

func (s *LogStore) RecordRoleMention(ctx context.Context, m *store.RoleMention) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if _, err := s.mentions.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("record role mention: %w", err)
	}
	return nil
}

func (s *LogStore) PurgeLogs(ctx context.Context) (int64, error) {
	res, err := s.logs.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *LogStore) PurgeRoleMentions(ctx context.Context) (int64, error) {
	res, err := s.mentions.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("purge role mentions: %w", err)
	}
	return res.DeletedCount, nil
}

// BlacklistStore persists mention blacklists.
type BlacklistStore struct {
	col *mongo.Collection
}

func (s *BlacklistStore) IsMentionBlacklisted(ctx context.Context, sourceGuildID, channelName string) (bool, error) {
	err := s.col.FindOne(ctx, bson.M{"sourceGuildId": sourceGuildID, "channelName": channelName}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find mention blacklist: %w", err)
	}
	return true, nil
}

func (s *BlacklistStore) AddMentionBlacklist(ctx context.Context, sourceGuildID, channelName string) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"sourceGuildId": sourceGuildID, "channelName": channelName},
		bson.M{"$setOnInsert": bson.M{"sourceGuildId": sourceGuildID, "channelName": channelName}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("add mention blacklist: %w", err)
	}
	return nil
}

// ConfigStore persists per-pair server configuration.
type ConfigStore struct {
	col *mongo.Collection
}

func (s *ConfigStore) UpsertServerConfig(ctx context.Context, sc *store.ServerConfig) error {
	sc.UpdatedAt = time.Now().UTC()
	_, err := s.col.UpdateOne(ctx,
		bson.M{"mirrorServerId": sc.MirrorServerID},
		bson.M{"$set": bson.M{"sourceServerId": sc.SourceServerID, "updatedAt": sc.UpdatedAt}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert server config: %w", err)
	}
	return nil
}
