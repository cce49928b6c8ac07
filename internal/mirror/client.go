// Package mirror wraps the bot-session transport for everything the engine
// mutates on mirror servers: channels, categories, forums, threads, roles
// and webhooks. Topology mutations for one mirror server are serialized by
// a per-server mutex so "create category then channel" is atomic with
// respect to itself and webhook creation never races into duplicates.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/security"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

// ErrChannelCapReached is returned once a mirror holds the provider's hard
// ceiling of non-category, non-thread channels.
var ErrChannelCapReached = errors.New("mirror: channel cap reached")

const (
	// ChannelCap is the provider's hard per-server channel ceiling.
	ChannelCap = 500
	// ChannelCapWarn is where the single per-session warning fires.
	ChannelCapWarn = 450
)

// Client is the mirror-side control transport.
type Client struct {
	session *discordgo.Session

	mu      sync.Mutex
	guildMu map[string]*sync.Mutex
}

// New creates a control client from a bot token.
func New(botToken string) (*Client, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("create bot session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildEmojis
	return &Client{
		session: session,
		guildMu: make(map[string]*sync.Mutex),
	}, nil
}

// Open connects the bot gateway (needed for emoji and guild state).
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open bot session: %w", err)
	}
	return nil
}

// Close shuts the bot session down.
func (c *Client) Close() error {
	return c.session.Close()
}

// Session exposes the raw session for webhook execution.
func (c *Client) Session() *discordgo.Session { return c.session }

// LockGuild returns the mutex serializing topology mutations for one
// mirror server. Callers hold it across create-parent-then-child sequences.
func (c *Client) LockGuild(guildID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.guildMu[guildID]
	if !ok {
		m = &sync.Mutex{}
		c.guildMu[guildID] = m
	}
	return m
}

// ChannelExists verifies a mirror channel id still points at a live object.
func (c *Client) ChannelExists(channelID string) bool {
	if channelID == "" || channelID == store.PendingMirrorID {
		return false
	}
	_, err := c.session.Channel(channelID)
	return err == nil
}

// GuildChannels lists the mirror server's channels.
func (c *Client) GuildChannels(guildID string) ([]*discordgo.Channel, error) {
	channels, err := c.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch mirror channels: %w", err)
	}
	return channels, nil
}

// GuildRoles lists the mirror server's roles.
func (c *Client) GuildRoles(guildID string) ([]*discordgo.Role, error) {
	roles, err := c.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch mirror roles: %w", err)
	}
	return roles, nil
}

// hasCommunity reports whether the mirror carries the community feature
// (required for news channels and forums).
func (c *Client) hasCommunity(guildID string) bool {
	guild, err := c.session.Guild(guildID)
	if err != nil {
		return false
	}
	for _, f := range guild.Features {
		if f == discordgo.GuildFeatureCommunity {
			return true
		}
	}
	return false
}

// CreateCategory creates a category on the mirror.
func (c *Client) CreateCategory(guildID, name string) (*discordgo.Channel, error) {
	ch, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildCategory,
	})
	if err != nil {
		return nil, fmt.Errorf("create category %q: %w", name, err)
	}
	return ch, nil
}

// CreateChannel creates a text-like channel on the mirror under an optional
// parent category. News channels degrade to plain text with a prefixed
// topic when the mirror lacks the community feature; forums get their
// mandatory defaults applied after creation.
func (c *Client) CreateChannel(guildID, name string, kind store.ChannelKind, parentID string) (*discordgo.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name:     name,
		ParentID: parentID,
	}
	switch kind {
	case store.KindNews:
		if c.hasCommunity(guildID) {
			data.Type = discordgo.ChannelTypeGuildNews
		} else {
			data.Type = discordgo.ChannelTypeGuildText
			data.Topic = "[news] " + name
		}
	case store.KindForum:
		if !c.hasCommunity(guildID) {
			data.Type = discordgo.ChannelTypeGuildText
			data.Topic = "[forum] " + name
			break
		}
		data.Type = discordgo.ChannelTypeGuildForum
	case store.KindVoice, store.KindStage:
		// Voice is never a replication target; represent it as text only if
		// a caller insists, which none do. Guard anyway.
		return nil, fmt.Errorf("refusing to mirror voice channel %q", name)
	default:
		data.Type = discordgo.ChannelTypeGuildText
	}

	ch, err := c.session.GuildChannelCreateComplex(guildID, data)
	if err != nil {
		return nil, fmt.Errorf("create channel %q: %w", name, err)
	}

	if data.Type == discordgo.ChannelTypeGuildForum {
		// Forum posts require archive defaults and a tag list, even empty.
		emptyTags := []discordgo.ForumTag{}
		archive := 4320
		_, editErr := c.session.ChannelEdit(ch.ID, &discordgo.ChannelEdit{
			AvailableTags:                 &emptyTags,
			DefaultThreadRateLimitPerUser: new(int),
			AutoArchiveDuration:           archive,
		})
		if editErr != nil {
			slog.Warn("mirror: forum defaults not applied", "channel", ch.ID, "error", editErr)
		}
	}
	return ch, nil
}

// CreateForumPost opens a forum post (thread + starter message).
func (c *Client) CreateForumPost(forumChannelID, title, content string) (*discordgo.Channel, error) {
	if content == "" {
		content = "​"
	}
	th, err := c.session.ForumThreadStartComplex(forumChannelID, &discordgo.ThreadStart{
		Name:                title,
		AutoArchiveDuration: 4320,
	}, &discordgo.MessageSend{Content: content})
	if err != nil {
		return nil, fmt.Errorf("create forum post %q: %w", title, err)
	}
	return th, nil
}

// StartThread opens a thread from an existing mirror message.
func (c *Client) StartThread(channelID, messageID, name string) (*discordgo.Channel, error) {
	th, err := c.session.MessageThreadStartComplex(channelID, messageID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 4320,
	})
	if err != nil {
		return nil, fmt.Errorf("start thread %q: %w", name, err)
	}
	return th, nil
}

// StartStandaloneThread opens a thread not bound to a message.
func (c *Client) StartStandaloneThread(channelID, name string) (*discordgo.Channel, error) {
	th, err := c.session.ThreadStartComplex(channelID, &discordgo.ThreadStart{
		Name:                name,
		AutoArchiveDuration: 4320,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	})
	if err != nil {
		return nil, fmt.Errorf("start standalone thread %q: %w", name, err)
	}
	return th, nil
}

// EditChannel renames or reparents a mirror channel.
func (c *Client) EditChannel(channelID, name, parentID string) error {
	edit := &discordgo.ChannelEdit{Name: name}
	if parentID != "" {
		edit.ParentID = parentID
	}
	if _, err := c.session.ChannelEdit(channelID, edit); err != nil {
		return fmt.Errorf("edit channel %s: %w", channelID, err)
	}
	return nil
}

// CreateRole mirrors a source role with its permission bitmap filtered
// through the security allow-list.
func (c *Client) CreateRole(guildID, name string, sourcePerms int64, color int, hoist, mentionable bool) (*discordgo.Role, error) {
	perms := security.FilterRolePermissions(sourcePerms)
	role, err := c.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &perms,
		Color:       &color,
		Hoist:       &hoist,
		Mentionable: &mentionable,
	})
	if err != nil {
		return nil, fmt.Errorf("create role %q: %w", name, err)
	}
	return role, nil
}

// EditRole updates a mirrored role, re-filtering permissions.
func (c *Client) EditRole(guildID, roleID, name string, sourcePerms int64) error {
	perms := security.FilterRolePermissions(sourcePerms)
	_, err := c.session.GuildRoleEdit(guildID, roleID, &discordgo.RoleParams{
		Name:        name,
		Permissions: &perms,
	})
	if err != nil {
		return fmt.Errorf("edit role %s: %w", roleID, err)
	}
	return nil
}

// EnsureSystemRoles creates or augments the two mirror system roles at
// boot. The members role is augmented, never replaced: existing extra bits
// stay, required missing bits are added.
func (c *Client) EnsureSystemRoles(guildID string) error {
	roles, err := c.GuildRoles(guildID)
	if err != nil {
		return err
	}
	var admin, members *discordgo.Role
	for _, r := range roles {
		switch strings.ToLower(r.Name) {
		case "admin":
			admin = r
		case "members":
			members = r
		}
	}

	if admin == nil {
		perms := security.AdminRolePermissions()
		if _, err := c.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
			Name:        "admin",
			Permissions: &perms,
		}); err != nil {
			return fmt.Errorf("create admin role: %w", err)
		}
	}

	required := security.MemberRolePermissions()
	if members == nil {
		if _, err := c.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
			Name:        "members",
			Permissions: &required,
		}); err != nil {
			return fmt.Errorf("create members role: %w", err)
		}
		return nil
	}
	if members.Permissions&required != required {
		merged := members.Permissions | required
		if _, err := c.session.GuildRoleEdit(guildID, members.ID, &discordgo.RoleParams{
			Name:        members.Name,
			Permissions: &merged,
		}); err != nil {
			return fmt.Errorf("augment members role: %w", err)
		}
	}
	return nil
}

// GuildEmojiNames returns the emoji names available on the mirror, used to
// decide which source reactions can replicate.
func (c *Client) GuildEmojiNames(guildID string) (map[string]string, error) {
	emojis, err := c.session.GuildEmojis(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch mirror emojis: %w", err)
	}
	out := make(map[string]string, len(emojis))
	for _, e := range emojis {
		out[e.Name] = e.ID
	}
	return out, nil
}

// AddReaction places a reaction on a mirror message.
func (c *Client) AddReaction(channelID, messageID, emojiAPIName string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emojiAPIName); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// SendEmbed posts an embed to a mirror channel (log sinks).
func (c *Client) SendEmbed(channelID string, embed *discordgo.MessageEmbed, content string) error {
	_, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content: content,
		Embeds:  []*discordgo.MessageEmbed{embed},
	})
	if err != nil {
		return fmt.Errorf("send embed: %w", err)
	}
	return nil
}

// CheckCap enforces the 500-channel ceiling against a proposed creation and
// returns the current count for warning decisions.
func (c *Client) CheckCap(ctx context.Context, channels store.ChannelStore, guildID string) (int64, error) {
	count, err := channels.CountMirrorChannels(ctx, guildID)
	if err != nil {
		return 0, err
	}
	if count >= ChannelCap {
		return count, ErrChannelCapReached
	}
	return count, nil
}
