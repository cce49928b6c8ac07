package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TTLs in seconds, matching the retention contract.
const (
	ttlProcessedMessages = 15 * 24 * 60 * 60 // 15 d on processedAt
	ttlMemberDetails     = 90 * 24 * 60 * 60 // 90 d on lastSeen
	ttlLogs              = 15 * 24 * 60 * 60 // 15 d on timestamp
	ttlRoleMentions      = 30 * 24 * 60 * 60 // 30 d on timestamp
	ttlAuthSessions      = 24 * 60 * 60     // 1 d on updatedAt; resumes go stale fast
)

// EnsureIndexes creates the compound/unique/TTL indexes for every
// collection. Safe to call on every boot; creation is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type spec struct {
		col    string
		models []mongo.IndexModel
	}

	unique := options.Index().SetUnique(true)
	sparse := options.Index().SetUnique(true).SetSparse(true)

	specs := []spec{
		{colChannels, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sourceChannelId", Value: 1}, {Key: "serverId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "discordId", Value: 1}}, Options: sparse},
			{Keys: bson.D{{Key: "serverId", Value: 1}, {Key: "scraped", Value: 1}}},
		}},
		{colRoles, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sourceRoleId", Value: 1}, {Key: "serverId", Value: 1}}, Options: unique},
		}},
		{colProcessedMessages, []mongo.IndexModel{
			{Keys: bson.D{{Key: "discordId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "processedAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttlProcessedMessages)},
		}},
		{colMemberDetails, []mongo.IndexModel{
			{Keys: bson.D{{Key: "guildId", Value: 1}, {Key: "userId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "lastSeen", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttlMemberDetails)},
		}},
		{colLogs, []mongo.IndexModel{
			{Keys: bson.D{{Key: "timestamp", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttlLogs)},
		}},
		{colRoleMentions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "timestamp", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttlRoleMentions)},
		}},
		{colMentionBlacklists, []mongo.IndexModel{
			{Keys: bson.D{{Key: "sourceGuildId", Value: 1}, {Key: "channelName", Value: 1}}, Options: unique},
		}},
		{colServerConfig, []mongo.IndexModel{
			{Keys: bson.D{{Key: "mirrorServerId", Value: 1}}, Options: unique},
		}},
		{colProxAuthCache, []mongo.IndexModel{
			{Keys: bson.D{{Key: "guildId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "updatedAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(ttlAuthSessions)},
		}},
	}

	for _, s := range specs {
		if _, err := db.Collection(s.col).Indexes().CreateMany(ctx, s.models); err != nil {
			return fmt.Errorf("indexes for %s: %w", s.col, err)
		}
	}
	return nil
}
