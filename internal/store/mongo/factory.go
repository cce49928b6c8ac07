// Package mongo backs the engine stores with a MongoDB database.
// TTL and unique indexes are created at boot; the TTL monitor does the
// steady-state deletion so the engine never scans for expiry itself.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// Collection names.
const (
	colChannels          = "Channels"
	colRoles             = "Roles"
	colProcessedMessages = "ProcessedMessages"
	colMemberDetails     = "MemberDetails"
	colMemberCounts      = "MemberCounts"
	colLogs              = "Logs"
	colRoleMentions      = "RoleMentions"
	colMentionBlacklists = "MentionBlacklists"
	colServerConfig      = "ServerConfig"
	colProxAuthCache     = "ProxAuthCache"
)

// DB wraps the connected database handle shared by all stores.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to the store and verifies reachability. A store that is
// unreachable at startup is a fatal invariant: the caller must exit non-zero.
func Open(ctx context.Context, uri, database string) (*DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &DB{client: client, db: client.Database(database)}, nil
}

// Close disconnects the underlying client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// NewStores creates all stores backed by Mongo and ensures indexes.
func NewStores(ctx context.Context, d *DB) (*store.Stores, error) {
	if err := EnsureIndexes(ctx, d.db); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return &store.Stores{
		Channels:   &ChannelStore{col: d.db.Collection(colChannels)},
		Roles:      &RoleStore{col: d.db.Collection(colRoles)},
		Messages:   &MessageStore{col: d.db.Collection(colProcessedMessages)},
		Members:    &MemberStore{details: d.db.Collection(colMemberDetails), counts: d.db.Collection(colMemberCounts)},
		Logs:       &LogStore{logs: d.db.Collection(colLogs), mentions: d.db.Collection(colRoleMentions)},
		Blacklists: &BlacklistStore{col: d.db.Collection(colMentionBlacklists)},
		Config:     &ConfigStore{col: d.db.Collection(colServerConfig)},
		Auth:       &AuthCacheStore{col: d.db.Collection(colProxAuthCache)},
	}, nil
}
