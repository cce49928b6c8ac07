// Package members runs the membership census for each source server. A
// detection pass layers four collection methods, cheapest first, and stops
// as soon as coverage against the advertised member count is good enough.
package members

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/logship"
	"github.com/WaRyXx06/astro-relay/internal/source"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

const chunkQueueLen = 64

// Tracker accumulates member sightings for one source server.
type Tracker struct {
	guildID string
	members store.MemberStore
	rest    *source.RESTClient
	gateway *source.Gateway
	ship    *logship.Shipper

	chunks chan source.MembersChunk

	mu   sync.Mutex
	seen map[string]*store.MemberDetail
}

// NewTracker builds a tracker for one source server.
func NewTracker(guildID string, members store.MemberStore, rest *source.RESTClient, gw *source.Gateway, ship *logship.Shipper) *Tracker {
	return &Tracker{
		guildID: guildID,
		members: members,
		rest:    rest,
		gateway: gw,
		ship:    ship,
		chunks:  make(chan source.MembersChunk, chunkQueueLen),
		seen:    make(map[string]*store.MemberDetail),
	}
}

// OnMembersChunk feeds gateway member frames into the tracker. Frames
// arriving while no detection pass is draining are dropped.
func (t *Tracker) OnMembersChunk(_ context.Context, chunk source.MembersChunk) {
	select {
	case t.chunks <- chunk:
	default:
	}
}

// OnAuthorSeen opportunistically records a message author as present.
func (t *Tracker) OnAuthorSeen(guildID, userID, username string) {
	if guildID != t.guildID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.members.Touch(ctx, guildID, userID, username, time.Now()); err != nil {
		slog.Debug("members: touch failed", "user", userID, "error", err)
	}
}

// absorb folds a batch of member objects into the working set, tagging
// each sighting with the method that produced it.
func (t *Tracker) absorb(batch []*discordgo.Member, method string) int {
	now := time.Now()
	fresh := 0
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range batch {
		if m == nil || m.User == nil || m.User.ID == "" {
			continue
		}
		if _, ok := t.seen[m.User.ID]; ok {
			continue
		}
		fresh++
		t.seen[m.User.ID] = &store.MemberDetail{
			GuildID:  t.guildID,
			UserID:   m.User.ID,
			Username: m.User.Username,
			History: []store.MemberEvent{{
				GuildID: t.guildID,
				Method:  method,
				At:      now,
			}},
			LastSeen: now,
		}
	}
	return fresh
}

func (t *Tracker) collected() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// flush persists the working set in bulk and resets it.
func (t *Tracker) flush(ctx context.Context) (int64, error) {
	t.mu.Lock()
	details := make([]store.MemberDetail, 0, len(t.seen))
	for _, d := range t.seen {
		details = append(details, *d)
	}
	t.seen = make(map[string]*store.MemberDetail)
	t.mu.Unlock()

	if len(details) == 0 {
		return 0, nil
	}
	return t.members.BulkUpsert(ctx, details)
}
