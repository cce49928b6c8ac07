package source

import "github.com/bwmarrin/discordgo"

// Event is the tagged union of source-side gateway events the engine
// consumes. Exactly one consumer (the replication pipeline) drains these.
type Event interface {
	isEvent()
}

// MessageCreated carries a newly posted source message.
type MessageCreated struct {
	Message *discordgo.Message
}

// MessageUpdated carries an edited source message. Partial: fields the
// provider did not resend are zero.
type MessageUpdated struct {
	Message *discordgo.Message
}

// MessageDeleted identifies a removed source message.
type MessageDeleted struct {
	ChannelID string
	MessageID string
	GuildID   string
}

// ReactionAdded carries one reaction placed on a source message.
type ReactionAdded struct {
	ChannelID string
	MessageID string
	GuildID   string
	UserID    string
	Emoji     discordgo.Emoji
}

// ThreadCreated carries a new source thread (including forum posts).
type ThreadCreated struct {
	Channel *discordgo.Channel
}

// ChannelCreated carries a new source channel.
type ChannelCreated struct {
	Channel *discordgo.Channel
}

// MembersChunk carries one GUILD_MEMBERS_CHUNK response page.
type MembersChunk struct {
	GuildID    string
	Members    []*discordgo.Member
	ChunkIndex int
	ChunkCount int
	Nonce      string
}

func (MessageCreated) isEvent() {}
func (MessageUpdated) isEvent() {}
func (MessageDeleted) isEvent() {}
func (ReactionAdded) isEvent()  {}
func (ThreadCreated) isEvent()  {}
func (ChannelCreated) isEvent() {}
func (MembersChunk) isEvent()   {}
