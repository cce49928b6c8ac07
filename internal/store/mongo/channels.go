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

// ChannelStore persists channel mappings in the Channels collection.
type ChannelStore struct {
	col *mongo.Collection
}

func (s *ChannelStore) Get(ctx context.Context, sourceChannelID, serverID string) (*store.ChannelMapping, error) {
	var m store.ChannelMapping
	err := s.col.FindOne(ctx, bson.M{"sourceChannelId": sourceChannelID, "serverId": serverID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find channel mapping: %w", err)
	}
	return &m, nil
}

func (s *ChannelStore) GetByMirror(ctx context.Context, mirrorChannelID string) (*store.ChannelMapping, error) {
	var m store.ChannelMapping
	err := s.col.FindOne(ctx, bson.M{"discordId": mirrorChannelID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by mirror id: %w", err)
	}
	return &m, nil
}

func (s *ChannelStore) ListByServer(ctx context.Context, serverID string) ([]store.ChannelMapping, error) {
	return s.list(ctx, bson.M{"serverId": serverID})
}

func (s *ChannelStore) ListScraped(ctx context.Context, serverID string) ([]store.ChannelMapping, error) {
	return s.list(ctx, bson.M{"serverId": serverID, "scraped": true})
}

func (s *ChannelStore) list(ctx context.Context, filter bson.M) ([]store.ChannelMapping, error) {
	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list channel mappings: %w", err)
	}
	var out []store.ChannelMapping
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode channel mappings: %w", err)
	}
	return out, nil
}

// Upsert writes a mapping keyed by (sourceChannelId, serverId). When another
// row already holds the same mirror-side id, that row's id is released first
// so the unique index never aborts the write.
func (s *ChannelStore) Upsert(ctx context.Context, m *store.ChannelMapping) error {
	if m.HasMirror() {
		_, err := s.col.UpdateMany(ctx,
			bson.M{"discordId": m.MirrorChannelID, "sourceChannelId": bson.M{"$ne": m.SourceChannelID}},
			bson.M{"$set": bson.M{"discordId": store.PendingMirrorID}},
		)
		if err != nil {
			return fmt.Errorf("release conflicting mirror id: %w", err)
		}
	}

	set := bson.M{
		"name":            m.Name,
		"kind":            m.Kind,
		"scraped":         m.Scraped,
		"blacklisted":     m.Blacklisted,
		"manuallyDeleted": m.ManuallyDeleted,
	}
	if m.MirrorChannelID != "" {
		set["discordId"] = m.MirrorChannelID
	}
	if m.ParentSourceID != "" {
		set["parentSourceId"] = m.ParentSourceID
	}
	if !m.BlacklistedTill.IsZero() {
		set["blacklistedUntil"] = m.BlacklistedTill
	}
	if !m.LastActivity.IsZero() {
		set["lastActivity"] = m.LastActivity
	}

	_, err := s.col.UpdateOne(ctx,
		bson.M{"sourceChannelId": m.SourceChannelID, "serverId": m.ServerID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert channel mapping: %w", err)
	}
	return nil
}

func (s *ChannelStore) SetMirror(ctx context.Context, sourceChannelID, serverID, mirrorChannelID string) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"sourceChannelId": sourceChannelID, "serverId": serverID},
		bson.M{"$set": bson.M{"discordId": mirrorChannelID}},
	)
	if err != nil {
		return fmt.Errorf("set mirror id: %w", err)
	}
	return nil
}

func (s *ChannelStore) Blacklist(ctx context.Context, sourceChannelID, serverID string, until time.Time) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"sourceChannelId": sourceChannelID, "serverId": serverID},
		bson.M{
			"$set": bson.M{"blacklisted": true, "blacklistedUntil": until, "scraped": false},
			"$inc": bson.M{"failedAttempts": 1},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("blacklist channel: %w", err)
	}
	return nil
}

func (s *ChannelStore) ClearExpiredBlacklists(ctx context.Context, serverID string, now time.Time) (int64, error) {
	res, err := s.col.UpdateMany(ctx,
		bson.M{"serverId": serverID, "blacklisted": true, "blacklistedUntil": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"blacklisted": false}},
	)
	if err != nil {
		return 0, fmt.Errorf("clear expired blacklists: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *ChannelStore) TouchActivity(ctx context.Context, sourceChannelID, serverID string, at time.Time) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"sourceChannelId": sourceChannelID, "serverId": serverID},
		bson.M{"$set": bson.M{"lastActivity": at}},
	)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

func (s *ChannelStore) CountMirrorChannels(ctx context.Context, serverID string) (int64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{
		"serverId":  serverID,
		"discordId": bson.M{"$exists": true, "$nin": bson.A{"", store.PendingMirrorID}},
		"kind":      bson.M{"$nin": bson.A{store.KindCategory, store.KindThreadNews, store.KindThreadPublic, store.KindThreadPrivate}},
	})
	if err != nil {
		return 0, fmt.Errorf("count mirror channels: %w", err)
	}
	return n, nil
}

func (s *ChannelStore) Delete(ctx context.Context, sourceChannelID, serverID string) error {
	_, err := s.col.DeleteOne(ctx, bson.M{"sourceChannelId": sourceChannelID, "serverId": serverID})
	if err != nil {
		return fmt.Errorf("delete channel mapping: %w", err)
	}
	return nil
}
