package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// RoleStore persists role mappings in the Roles collection.
type RoleStore struct {
	col *mongo.Collection
}

func (s *RoleStore) Get(ctx context.Context, sourceRoleID, serverID string) (*store.RoleMapping, error) {
	var m store.RoleMapping
	err := s.col.FindOne(ctx, bson.M{"sourceRoleId": sourceRoleID, "serverId": serverID}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find role mapping: %w", err)
	}
	return &m, nil
}

func (s *RoleStore) ListByServer(ctx context.Context, serverID string) ([]store.RoleMapping, error) {
	cur, err := s.col.Find(ctx, bson.M{"serverId": serverID})
	if err != nil {
		return nil, fmt.Errorf("list role mappings: %w", err)
	}
	var out []store.RoleMapping
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode role mappings: %w", err)
	}
	return out, nil
}

func (s *RoleStore) Upsert(ctx context.Context, m *store.RoleMapping) error {
	set := bson.M{
		"name":   m.Name,
		"synced": m.Synced,
	}
	if m.MirrorRoleID != "" {
		set["discordId"] = m.MirrorRoleID
	}
	_, err := s.col.UpdateOne(ctx,
		bson.M{"sourceRoleId": m.SourceRoleID, "serverId": m.ServerID},
		bson.M{"$set": set},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert role mapping: %w", err)
	}
	return nil
}
