package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

// embedWait is how long a link-bearing message waits for the provider to
// deliver its unfurled embed before committing without one.
const embedWait = 3 * time.Second

// embedBuffer parks messages that contain a link but arrived before the
// provider attached the unfurl embed. The dispatcher offers MESSAGE_UPDATE
// frames to the buffer before routing them; an absorbed update never
// reaches the edit path, so the message commits exactly once.
type embedBuffer struct {
	mu      sync.Mutex
	waiting map[string]chan []*discordgo.MessageEmbed
}

func newEmbedBuffer() *embedBuffer {
	return &embedBuffer{waiting: make(map[string]chan []*discordgo.MessageEmbed)}
}

// wait blocks up to embedWait for embeds to arrive for messageID. Returns
// nil when the window closes empty.
func (b *embedBuffer) wait(ctx context.Context, messageID string) []*discordgo.MessageEmbed {
	ch := make(chan []*discordgo.MessageEmbed, 1)
	b.mu.Lock()
	b.waiting[messageID] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiting, messageID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(embedWait)
	defer timer.Stop()
	select {
	case embeds := <-ch:
		return embeds
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// offer hands an update's embeds to a waiting message. Reports whether the
// update was absorbed.
func (b *embedBuffer) offer(messageID string, embeds []*discordgo.MessageEmbed) bool {
	if len(embeds) == 0 {
		return false
	}
	b.mu.Lock()
	ch, ok := b.waiting[messageID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- embeds:
		return true
	default:
		return false
	}
}

// hasLink reports whether content plausibly carries an unfurlable URL.
func hasLink(content string) bool {
	return strings.Contains(content, "http://") || strings.Contains(content, "https://")
}
