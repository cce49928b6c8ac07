package store

import "time"

// ChannelKind mirrors the upstream numeric channel type codes.
type ChannelKind int

const (
	KindText          ChannelKind = 0
	KindVoice         ChannelKind = 2
	KindCategory      ChannelKind = 4
	KindNews          ChannelKind = 5
	KindThreadNews    ChannelKind = 10
	KindThreadPublic  ChannelKind = 11
	KindThreadPrivate ChannelKind = 12
	KindStage         ChannelKind = 13
	KindForum         ChannelKind = 15
)

// IsThread reports whether the kind is any thread variant.
func (k ChannelKind) IsThread() bool {
	return k == KindThreadNews || k == KindThreadPublic || k == KindThreadPrivate
}

// CountsTowardCap reports whether a channel of this kind counts against the
// 500 non-category/non-thread channel ceiling.
func (k ChannelKind) CountsTowardCap() bool {
	return k != KindCategory && !k.IsThread()
}

// PendingMirrorID is the sentinel stored in MirrorChannelID while a mapping
// exists but the mirror-side object has not been created yet.
const PendingMirrorID = "pending"

// ChannelMapping maps a source channel to its mirror counterpart.
// Unique on (SourceChannelID, ServerID); MirrorChannelID unique when set.
type ChannelMapping struct {
	SourceChannelID string      `bson:"sourceChannelId"`
	ServerID        string      `bson:"serverId"` // source server id
	Name            string      `bson:"name"`
	MirrorChannelID string      `bson:"discordId,omitempty"` // mirror-side id or "pending"
	Kind            ChannelKind `bson:"kind"`
	ParentSourceID  string      `bson:"parentSourceId,omitempty"`
	Scraped         bool        `bson:"scraped"`
	Blacklisted     bool        `bson:"blacklisted,omitempty"`
	BlacklistedTill time.Time   `bson:"blacklistedUntil,omitempty"`
	FailedAttempts  int         `bson:"failedAttempts,omitempty"`
	ManuallyDeleted bool        `bson:"manuallyDeleted,omitempty"`
	LastActivity    time.Time   `bson:"lastActivity,omitempty"`
}

// HasMirror reports whether the mapping points at a real mirror channel.
func (m *ChannelMapping) HasMirror() bool {
	return m.MirrorChannelID != "" && m.MirrorChannelID != PendingMirrorID
}

// RoleMapping maps a source role to its mirror counterpart.
// Unique on (SourceRoleID, ServerID). @everyone is never mapped.
type RoleMapping struct {
	SourceRoleID string `bson:"sourceRoleId"`
	ServerID     string `bson:"serverId"`
	Name         string `bson:"name"`
	MirrorRoleID string `bson:"discordId,omitempty"`
	Synced       bool   `bson:"synced"`
}

// ProcessedMessage records one committed source→mirror message.
// Presence of a row means the source message was committed exactly once.
// TTL: 15 days on ProcessedAt.
type ProcessedMessage struct {
	SourceMessageID string    `bson:"discordId"` // unique
	SourceChannelID string    `bson:"sourceChannelId"`
	MirrorMessageID string    `bson:"mirrorMessageId"`
	MirrorChannelID string    `bson:"mirrorChannelId"`
	MirrorServerID  string    `bson:"mirrorServerId"`
	WebhookID       string    `bson:"webhookId"`
	WebhookToken    string    `bson:"webhookToken"`
	ThreadID        string    `bson:"threadId,omitempty"`
	AwaitingEmbed   bool      `bson:"awaitingEmbed"`
	RenderedContent string    `bson:"renderedContent"`
	ProcessedAt     time.Time `bson:"processedAt"`
}

// MemberDetail is the membership census row for one user on one source
// server. Unique on (GuildID, UserID); TTL 90 days on LastSeen.
type MemberDetail struct {
	GuildID     string         `bson:"guildId"`
	UserID      string         `bson:"userId"`
	Username    string         `bson:"username,omitempty"`
	DangerLevel int            `bson:"dangerLevel"` // 0–3
	IsDangerous bool           `bson:"isDangerous"`
	History     []MemberEvent  `bson:"history,omitempty"` // bounded to 100
	Guilds      map[string]int `bson:"guilds,omitempty"`  // concurrent presences
	FirstSeen   time.Time      `bson:"firstSeen,omitempty"`
	LastSeen    time.Time      `bson:"lastSeen"`
}

// MemberEvent is one presence observation in a member's history.
type MemberEvent struct {
	GuildID string    `bson:"guildId"`
	Method  string    `bson:"method"` // cache | lazylist | gateway | bruteforce | message
	At      time.Time `bson:"at"`
}

// MemberHistoryLimit bounds MemberDetail.History.
const MemberHistoryLimit = 100

// MemberCount is a periodic census datapoint for a source server.
type MemberCount struct {
	GuildID string    `bson:"guildId"`
	Count   int       `bson:"count"`
	At      time.Time `bson:"at"`
}

// LogKind tags a persisted log entry.
type LogKind string

const (
	LogNewroom   LogKind = "newroom"
	LogError     LogKind = "error"
	LogRoles     LogKind = "roles"
	LogAdmin     LogKind = "admin"
	LogAutoStart LogKind = "auto-start"
	LogMembers   LogKind = "members"
)

// LogEntry is a persisted operator log row. TTL 15 days on Timestamp.
type LogEntry struct {
	Kind      LogKind   `bson:"kind"`
	ServerID  string    `bson:"serverId,omitempty"`
	Message   string    `bson:"message"`
	Detail    string    `bson:"detail,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
}

// RoleMention records an outbound role-mention notification. TTL 30 days.
type RoleMention struct {
	SourceGuildID string    `bson:"sourceGuildId"`
	ChannelName   string    `bson:"channelName"`
	RoleID        string    `bson:"roleId"`
	MessageURL    string    `bson:"messageUrl,omitempty"`
	Timestamp     time.Time `bson:"timestamp"`
}

// MentionBlacklist disables mention notifications from one source channel.
// Unique on (SourceGuildID, ChannelName).
type MentionBlacklist struct {
	SourceGuildID string `bson:"sourceGuildId"`
	ChannelName   string `bson:"channelName"`
}

// AuthSession caches the user-session gateway handshake so a restart can
// resume instead of re-identifying. Keyed by source server id; stale rows
// age out on UpdatedAt.
type AuthSession struct {
	GuildID   string    `bson:"guildId"`
	SessionID string    `bson:"sessionId"`
	ResumeURL string    `bson:"resumeUrl"`
	Sequence  int64     `bson:"sequence"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// ServerConfig is the persisted per-pair configuration document.
type ServerConfig struct {
	SourceServerID string    `bson:"sourceServerId"`
	MirrorServerID string    `bson:"mirrorServerId"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}
