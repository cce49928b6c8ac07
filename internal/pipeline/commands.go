package pipeline

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/ttlcache"
)

// commandAssocWindow buckets invocation and response into the same slot.
const commandAssocWindow = 5 * time.Second

// commandPendingTTL bounds how long an unanswered invocation stays
// correlatable. A response landing later reads as ordinary bot chatter.
const commandPendingTTL = time.Minute

// commandTracker correlates slash-command invocations with the bot
// responses that follow them. The provider links the two with an
// interaction id when it feels like it; the time-bucket key catches the
// rest.
type commandTracker struct {
	cache *ttlcache.Cache
}

func newCommandTracker(ttl time.Duration) *commandTracker {
	return &commandTracker{cache: ttlcache.New(ttl, 1024)}
}

func bucketKey(channelID, userID string, at time.Time) string {
	bucket := at.Unix() / int64(commandAssocWindow/time.Second)
	return fmt.Sprintf("%s|%s|%d", channelID, userID, bucket)
}

// observe records the command name of an invocation message so later
// responses can name it.
func (t *commandTracker) observe(m *discordgo.Message) {
	if m == nil || m.Interaction == nil || m.Interaction.Name == "" {
		return
	}
	t.cache.Set("i:"+m.Interaction.ID, m.Interaction.Name)
	if m.Interaction.User != nil {
		t.cache.Set("b:"+bucketKey(m.ChannelID, m.Interaction.User.ID, m.Timestamp), m.Interaction.Name)
	}
}

// lookup resolves the command name behind a bot response, by interaction
// id first, time bucket second.
func (t *commandTracker) lookup(m *discordgo.Message) (string, bool) {
	if m == nil {
		return "", false
	}
	if m.Interaction != nil {
		if m.Interaction.Name != "" {
			return m.Interaction.Name, true
		}
		if v, ok := t.cache.Get("i:" + m.Interaction.ID); ok {
			return v.(string), true
		}
	}
	if m.Author != nil && m.Author.Bot {
		if v, ok := t.cache.Get("b:" + bucketKey(m.ChannelID, m.Author.ID, m.Timestamp)); ok {
			return v.(string), true
		}
	}
	return "", false
}

// commandHeader is prefixed to a rendered message that answers a slash
// command, so mirror readers see what was invoked.
func commandHeader(m *discordgo.Message, command string) string {
	user := "someone"
	if m.Interaction != nil && m.Interaction.User != nil && m.Interaction.User.Username != "" {
		user = m.Interaction.User.Username
	}
	return fmt.Sprintf("-# **@%s** used `/%s`\n", user, command)
}
