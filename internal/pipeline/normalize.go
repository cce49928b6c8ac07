package pipeline

import (
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Payload limits imposed by the provider. The embed text limit applies to
// each embed individually, across all of its text fields.
const (
	maxContentLen    = 2000
	maxEmbedTextLen  = 6000
	maxEmbedsPerSend = 10
)

var (
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	messageLinkRe    = regexp.MustCompile(`https://(?:ptb\.|canary\.)?discord(?:app)?\.com/channels/(\d+)/(\d+)(?:/(\d+))?`)
)

// MentionResolver answers the lookups rewriting needs. Implementations
// must be side-effect free; creation of missing targets happens outside.
type MentionResolver interface {
	// MirrorChannel maps a source channel id to its mirror channel id.
	MirrorChannel(sourceChannelID string) (string, bool)
	// MirrorRole maps a source role id to its mirror role id.
	MirrorRole(sourceRoleID string) (string, bool)
	// MirrorMessage maps a processed source message id to its mirror
	// channel and message ids.
	MirrorMessage(sourceMessageID string) (mirrorChannelID, mirrorMessageID string, ok bool)
	// MirrorGuildID returns the mirror server paired with this source.
	MirrorGuildID() (string, bool)
	// SourceChannelName names a source channel, mirrored or not.
	SourceChannelName(sourceChannelID string) (string, bool)
	// SourceRoleName names a source role, mirrored or not.
	SourceRoleName(sourceRoleID string) (string, bool)
}

// PendingChannel is a channel mention committed as a bolded placeholder
// because no mirror exists yet. The caller creates the mirror and edits
// the placeholder into a live reference.
type PendingChannel struct {
	SourceID    string
	Placeholder string
}

// RewriteResult carries the rendered content plus the channel mentions
// that rendered as placeholders.
type RewriteResult struct {
	Content         string
	PendingChannels []PendingChannel
	MentionedRoles  []string // mirror role ids actually emitted
}

// Rewrite renders source message content for the mirror: channel mentions
// remap to mirror ids or render as bolded placeholders, role mentions
// remap or flatten to a bolded plain name, user mentions flatten to a
// bolded plain name, and @everyone/@here are defused with a zero-width
// space. The output is clamped to the provider's content limit.
func Rewrite(content string, msg *discordgo.Message, r MentionResolver, allowRolePings bool) RewriteResult {
	var res RewriteResult

	out := rewriteMessageLinks(content, msg, r)

	out = channelMentionRe.ReplaceAllStringFunc(out, func(m string) string {
		id := channelMentionRe.FindStringSubmatch(m)[1]
		if mirrorID, ok := r.MirrorChannel(id); ok {
			return "<#" + mirrorID + ">"
		}
		name, ok := r.SourceChannelName(id)
		if !ok || name == "" {
			name = "channel"
		}
		placeholder := "**#" + name + "**"
		res.PendingChannels = append(res.PendingChannels, PendingChannel{
			SourceID:    id,
			Placeholder: placeholder,
		})
		return placeholder
	})

	out = roleMentionRe.ReplaceAllStringFunc(out, func(m string) string {
		id := roleMentionRe.FindStringSubmatch(m)[1]
		if mirrorID, ok := r.MirrorRole(id); ok && allowRolePings {
			res.MentionedRoles = append(res.MentionedRoles, mirrorID)
			return "<@&" + mirrorID + ">"
		}
		name, ok := r.SourceRoleName(id)
		if !ok || name == "" {
			name = "role"
		}
		return "**@" + name + "**"
	})

	out = userMentionRe.ReplaceAllStringFunc(out, func(m string) string {
		id := userMentionRe.FindStringSubmatch(m)[1]
		return "**@" + userNameFor(msg, id) + "**"
	})

	out = defuseMassMentions(out)
	res.Content = ClampContent(out)
	return res
}

// rewriteMessageLinks points deep links at the mirror: a link into the
// observed server becomes the equivalent mirror link when the target
// message or channel is known. Links elsewhere pass through untouched.
func rewriteMessageLinks(content string, msg *discordgo.Message, r MentionResolver) string {
	if msg == nil || msg.GuildID == "" || !strings.Contains(content, "/channels/") {
		return content
	}
	mirrorGuild, ok := r.MirrorGuildID()
	if !ok {
		return content
	}
	return messageLinkRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := messageLinkRe.FindStringSubmatch(m)
		if sub[1] != msg.GuildID {
			return m
		}
		if sub[3] != "" {
			ch, id, ok := r.MirrorMessage(sub[3])
			if !ok {
				return m
			}
			return "https://discord.com/channels/" + mirrorGuild + "/" + ch + "/" + id
		}
		if ch, ok := r.MirrorChannel(sub[2]); ok {
			return "https://discord.com/channels/" + mirrorGuild + "/" + ch
		}
		return m
	})
}

func userNameFor(msg *discordgo.Message, userID string) string {
	if msg != nil {
		for _, u := range msg.Mentions {
			if u.ID == userID {
				if u.Username != "" {
					return u.Username
				}
				break
			}
		}
	}
	return "user"
}

// defuseMassMentions inserts a zero-width space so @everyone and @here
// render verbatim without pinging anyone on the mirror.
func defuseMassMentions(s string) string {
	s = strings.ReplaceAll(s, "@everyone", "@"+zeroWidthSpace+"everyone")
	s = strings.ReplaceAll(s, "@here", "@"+zeroWidthSpace+"here")
	return s
}

const zeroWidthSpace = "​"

// ClampContent truncates to the provider's content limit, rune-safe.
func ClampContent(s string) string {
	if len(s) <= maxContentLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxContentLen {
		return s
	}
	return string(runes[:maxContentLen-1]) + "…"
}

// TrimEmbeds enforces the embed rules: at most ten embeds per send, and
// an embed whose combined text exceeds the per-embed limit is dropped
// whole rather than truncated mid-field. Valid embeds after an invalid
// one still ship.
func TrimEmbeds(embeds []*discordgo.MessageEmbed) []*discordgo.MessageEmbed {
	if len(embeds) == 0 {
		return nil
	}
	kept := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		if e == nil || embedTextLen(e) > maxEmbedTextLen {
			continue
		}
		kept = append(kept, e)
		if len(kept) == maxEmbedsPerSend {
			break
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func embedTextLen(e *discordgo.MessageEmbed) int {
	if e == nil {
		return 0
	}
	n := len(e.Title) + len(e.Description)
	for _, f := range e.Fields {
		if f != nil {
			n += len(f.Name) + len(f.Value)
		}
	}
	if e.Footer != nil {
		n += len(e.Footer.Text)
	}
	if e.Author != nil {
		n += len(e.Author.Name)
	}
	return n
}
