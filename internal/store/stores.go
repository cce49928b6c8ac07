package store

import (
	"context"
	"time"
)

// ChannelStore owns channel mappings.
type ChannelStore interface {
	// Get returns the mapping for (sourceChannelID, serverID), or nil.
	Get(ctx context.Context, sourceChannelID, serverID string) (*ChannelMapping, error)
	// GetByMirror returns the mapping whose mirror-side id matches, or nil.
	GetByMirror(ctx context.Context, mirrorChannelID string) (*ChannelMapping, error)
	// ListByServer returns all mappings for a source server.
	ListByServer(ctx context.Context, serverID string) ([]ChannelMapping, error)
	// ListScraped returns the active replication targets for a source server.
	ListScraped(ctx context.Context, serverID string) ([]ChannelMapping, error)
	// Upsert writes a mapping keyed by (SourceChannelID, ServerID).
	// A conflicting mirror-side id on another row is released first.
	Upsert(ctx context.Context, m *ChannelMapping) error
	// SetMirror updates only the mirror-side id of an existing mapping.
	SetMirror(ctx context.Context, sourceChannelID, serverID, mirrorChannelID string) error
	// Blacklist marks a mapping blacklisted until the given boundary and
	// increments FailedAttempts.
	Blacklist(ctx context.Context, sourceChannelID, serverID string, until time.Time) error
	// ClearExpiredBlacklists lifts blacklists whose boundary has passed.
	ClearExpiredBlacklists(ctx context.Context, serverID string, now time.Time) (int64, error)
	// TouchActivity updates LastActivity for a mapping.
	TouchActivity(ctx context.Context, sourceChannelID, serverID string, at time.Time) error
	// CountMirrorChannels counts mappings with a live mirror id whose kind
	// counts toward the 500 ceiling.
	CountMirrorChannels(ctx context.Context, serverID string) (int64, error)
	// Delete removes a mapping.
	Delete(ctx context.Context, sourceChannelID, serverID string) error
}

// RoleStore owns role mappings.
type RoleStore interface {
	Get(ctx context.Context, sourceRoleID, serverID string) (*RoleMapping, error)
	ListByServer(ctx context.Context, serverID string) ([]RoleMapping, error)
	Upsert(ctx context.Context, m *RoleMapping) error
}

// MessageStore owns processed-message records.
type MessageStore interface {
	// Get returns the record for a source message id, or nil.
	Get(ctx context.Context, sourceMessageID string) (*ProcessedMessage, error)
	// Insert writes a record; inserting a duplicate source message id is a
	// silent no-op (the unique index is the idempotence guard).
	Insert(ctx context.Context, m *ProcessedMessage) error
	// Update rewrites the mutable fields (mirror message id, rendered
	// content, awaitingEmbed) of an existing record.
	Update(ctx context.Context, m *ProcessedMessage) error
	// ExistingIDs filters the given source message ids down to those already
	// recorded. Used by backfill dedup.
	ExistingIDs(ctx context.Context, sourceMessageIDs []string) (map[string]bool, error)
	// PurgeAll removes every record (emergency purge).
	PurgeAll(ctx context.Context) (int64, error)
}

// MemberStore owns membership census rows.
type MemberStore interface {
	// BulkUpsert writes a batch of member details with upsert semantics,
	// unordered so one bad row does not abort the batch.
	BulkUpsert(ctx context.Context, details []MemberDetail) (int64, error)
	// Touch opportunistically upserts presence for one (guild, user).
	Touch(ctx context.Context, guildID, userID, username string, at time.Time) error
	// Get returns one member row, or nil.
	Get(ctx context.Context, guildID, userID string) (*MemberDetail, error)
	// RecordCount appends a census datapoint.
	RecordCount(ctx context.Context, c *MemberCount) error
	// RecomputeDanger rescores the danger level of users present on more
	// than one observed server. Returns the number of rescored rows.
	RecomputeDanger(ctx context.Context) (int64, error)
	// PurgeAll removes member details and counts (emergency purge).
	PurgeAll(ctx context.Context) (int64, error)
}

// LogStore owns persisted operator logs and role-mention rows.
type LogStore interface {
	Append(ctx context.Context, e *LogEntry) error
	RecordRoleMention(ctx context.Context, m *RoleMention) error
	// PurgeLogs removes every log row (purge-logs script).
	PurgeLogs(ctx context.Context) (int64, error)
	// PurgeRoleMentions removes every role-mention row (emergency purge).
	PurgeRoleMentions(ctx context.Context) (int64, error)
}

// BlacklistStore owns mention blacklists.
type BlacklistStore interface {
	IsMentionBlacklisted(ctx context.Context, sourceGuildID, channelName string) (bool, error)
	AddMentionBlacklist(ctx context.Context, sourceGuildID, channelName string) error
}

// ConfigStore persists per-pair server configuration.
type ConfigStore interface {
	UpsertServerConfig(ctx context.Context, sc *ServerConfig) error
}

// AuthCacheStore persists gateway session handshakes across restarts.
type AuthCacheStore interface {
	// GetSession returns the cached handshake for a source server, or nil.
	GetSession(ctx context.Context, guildID string) (*AuthSession, error)
	// PutSession upserts the handshake keyed by guild id.
	PutSession(ctx context.Context, s *AuthSession) error
	// DeleteSession drops a handshake the provider invalidated.
	DeleteSession(ctx context.Context, guildID string) error
}

// Stores bundles every store the engine composes.
type Stores struct {
	Channels   ChannelStore
	Roles      RoleStore
	Messages   MessageStore
	Members    MemberStore
	Logs       LogStore
	Blacklists BlacklistStore
	Config     ConfigStore
	Auth       AuthCacheStore
}
