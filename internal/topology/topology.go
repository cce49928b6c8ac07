// Package topology keeps the mirror's structure aligned with the source:
// periodic role and channel synchronization, source access probing with
// blacklisting, and auto-configuration of channels and threads that appear
// while the engine runs. The sync cadence adapts to how much actually
// changes; a quiet source is polled hourly, a churning one every five
// minutes.
package topology

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/logship"
	"github.com/WaRyXx06/astro-relay/internal/mapper"
	"github.com/WaRyXx06/astro-relay/internal/mirror"
	"github.com/WaRyXx06/astro-relay/internal/pipeline"
	"github.com/WaRyXx06/astro-relay/internal/source"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

// Sync cadence ladder. A pass with changes or errors drops back to the
// fastest interval; consecutive clean quiet passes climb the ladder.
var syncIntervals = []time.Duration{5 * time.Minute, 30 * time.Minute, 60 * time.Minute}

// errorFreeWindow gates the slowest rung: the hourly cadence needs two
// hours without a sync error.
const errorFreeWindow = 2 * time.Hour

// silentRetryCap stops probing a channel that keeps failing; it stays
// blacklisted until an operator intervenes or the janitor lifts it.
const silentRetryCap = 10

// Manager runs structural synchronization for every configured pair.
type Manager struct {
	rest            *source.RESTClient
	mapper          *mapper.Manager
	client          *mirror.Client
	stores          *store.Stores
	ship            *logship.Shipper
	engine          *pipeline.Engine
	pairs           []config.Pair
	scrapeDelay     time.Duration
	backfillLimit   int
	monitorInterval time.Duration
	now             func() time.Time

	mu            sync.Mutex
	intervalIndex int
	lastError     time.Time
}

// NewManager assembles the topology manager.
func NewManager(rest *source.RESTClient, mp *mapper.Manager, client *mirror.Client, stores *store.Stores, ship *logship.Shipper, engine *pipeline.Engine, cfg *config.Config) *Manager {
	return &Manager{
		rest:            rest,
		mapper:          mp,
		client:          client,
		stores:          stores,
		ship:            ship,
		engine:          engine,
		pairs:           cfg.Pairs,
		scrapeDelay:     cfg.ScrapeDelay(),
		backfillLimit:   cfg.Engine.BackfillLimit,
		monitorInterval: cfg.MonitorInterval(),
		now:             time.Now,
	}
}

// Run performs an immediate pass and then loops on the adaptive interval.
func (t *Manager) Run(ctx context.Context) {
	t.pass(ctx)
	for {
		timer := time.NewTimer(t.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			t.pass(ctx)
		}
	}
}

func (t *Manager) interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return syncIntervals[t.intervalIndex]
}

// adapt moves the cadence after a pass. Any error pins the fastest
// interval; changes reset to it; the slowest rung needs the error-free
// window on top of a quiet pass.
func (t *Manager) adapt(changes, errs int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if errs > 0 {
		t.lastError = now
		t.intervalIndex = 0
		return
	}
	if changes > 0 {
		t.intervalIndex = 0
		return
	}
	if t.intervalIndex >= len(syncIntervals)-1 {
		return
	}
	if t.intervalIndex == len(syncIntervals)-2 && now.Sub(t.lastError) < errorFreeWindow {
		return
	}
	t.intervalIndex++
}

// pass synchronizes every pair and adjusts the cadence.
func (t *Manager) pass(ctx context.Context) {
	started := time.Now()
	changes, errs := 0, 0
	for _, pair := range t.pairs {
		if ctx.Err() != nil {
			return
		}
		c, e := t.syncRoles(ctx, pair)
		changes, errs = changes+c, errs+e
		c, e = t.syncChannels(ctx, pair)
		changes, errs = changes+c, errs+e
	}
	t.adapt(changes, errs)
	slog.Info("topology: sync pass complete",
		"changes", changes, "errors", errs,
		"elapsed", time.Since(started).Round(time.Millisecond),
		"next_interval", t.interval())
}

// SyncServer forces one full role and channel sync for a single source
// server. Recovery calls this before re-resolving a broken mapping.
func (t *Manager) SyncServer(ctx context.Context, sourceServerID string) error {
	pair, ok := t.pairFor(sourceServerID)
	if !ok {
		return fmt.Errorf("no pair for server %s", sourceServerID)
	}
	_, errs := t.syncRoles(ctx, pair)
	_, e := t.syncChannels(ctx, pair)
	errs += e
	if errs > 0 {
		t.adapt(0, errs)
		return fmt.Errorf("sync server %s: %d fetches failed", sourceServerID, errs)
	}
	return nil
}

// syncRoles aligns mirror roles with the source's. @everyone and managed
// (integration-owned) roles never replicate.
func (t *Manager) syncRoles(ctx context.Context, pair config.Pair) (changes, errs int) {
	roles, err := t.rest.FetchGuildRoles(ctx, pair.SourceServerID)
	if err != nil {
		slog.Error("topology: role fetch failed", "server", pair.SourceServerID, "error", err)
		t.ship.Error(ctx, pair.SourceServerID, "role sync failed", err)
		return 0, 1
	}
	for _, role := range roles {
		if role.ID == pair.SourceServerID || role.Managed {
			continue
		}
		existing, err := t.stores.Roles.Get(ctx, role.ID, pair.SourceServerID)
		if err != nil {
			errs++
			continue
		}
		if existing == nil {
			if _, err := t.mapper.EnsureRole(ctx, pair.SourceServerID, role); err != nil {
				slog.Warn("topology: role not mirrored", "role", role.Name, "error", err)
				errs++
				continue
			}
			changes++
			continue
		}
		if existing.Name != role.Name && existing.MirrorRoleID != "" {
			if err := t.client.EditRole(pair.MirrorServerID, existing.MirrorRoleID, role.Name, role.Permissions); err != nil {
				slog.Warn("topology: role rename failed", "role", role.Name, "error", err)
				errs++
				continue
			}
			existing.Name = role.Name
			if err := t.stores.Roles.Upsert(ctx, existing); err == nil {
				changes++
			}
		}
	}
	return changes, errs
}

// syncChannels discovers source channels and records mappings for new
// ones. Mirror objects are created lazily on first message; the sync pass
// only maintains the mapping table and propagates renames.
func (t *Manager) syncChannels(ctx context.Context, pair config.Pair) (changes, errs int) {
	channels, err := t.rest.FetchGuildChannels(ctx, pair.SourceServerID)
	if err != nil {
		slog.Error("topology: channel fetch failed", "server", pair.SourceServerID, "error", err)
		t.ship.Error(ctx, pair.SourceServerID, "channel sync failed", err)
		return 0, 1
	}
	ignored := make(map[string]bool, len(pair.IgnoreChannels))
	for _, id := range pair.IgnoreChannels {
		ignored[id] = true
	}
	existing, err := t.stores.Channels.ListByServer(ctx, pair.SourceServerID)
	if err != nil {
		slog.Error("topology: mapping list failed", "server", pair.SourceServerID, "error", err)
		return 0, 1
	}
	known := make(map[string]*store.ChannelMapping, len(existing))
	for i := range existing {
		known[existing[i].SourceChannelID] = &existing[i]
	}

	for _, ch := range channels {
		if ignored[ch.ID] {
			continue
		}
		kind := store.ChannelKind(ch.Type)
		switch kind {
		case store.KindText, store.KindNews, store.KindForum, store.KindCategory:
		default:
			continue
		}

		mapping, ok := known[ch.ID]
		if !ok {
			mapping = &store.ChannelMapping{
				SourceChannelID: ch.ID,
				ServerID:        pair.SourceServerID,
				Name:            ch.Name,
				MirrorChannelID: store.PendingMirrorID,
				Kind:            kind,
				ParentSourceID:  ch.ParentID,
				Scraped:         kind != store.KindCategory,
			}
			if err := t.stores.Channels.Upsert(ctx, mapping); err != nil {
				slog.Warn("topology: mapping not recorded", "channel", ch.Name, "error", err)
				errs++
				continue
			}
			slog.Info("topology: channel discovered", "channel", ch.Name, "kind", int(kind))
			changes++
			continue
		}

		if mapping.Name != ch.Name {
			if mapping.HasMirror() {
				if err := t.client.EditChannel(mapping.MirrorChannelID, ch.Name, ""); err != nil {
					slog.Warn("topology: rename not propagated", "channel", ch.Name, "error", err)
					errs++
					continue
				}
			}
			mapping.Name = ch.Name
			if err := t.stores.Channels.Upsert(ctx, mapping); err == nil {
				t.mapper.Invalidate(ch.ID, pair.SourceServerID)
				changes++
			}
		}
	}
	return changes, errs
}

// HandleChannelCreated reacts to a live CHANNEL_CREATE: record the
// mapping, create the mirror and replay whatever history already exists.
func (t *Manager) HandleChannelCreated(ctx context.Context, ch *discordgo.Channel) {
	pair, ok := t.pairFor(ch.GuildID)
	if !ok {
		return
	}
	for _, id := range pair.IgnoreChannels {
		if id == ch.ID {
			return
		}
	}
	kind := store.ChannelKind(ch.Type)
	switch kind {
	case store.KindText, store.KindNews, store.KindForum:
	case store.KindCategory:
		mapping := &store.ChannelMapping{
			SourceChannelID: ch.ID,
			ServerID:        ch.GuildID,
			Name:            ch.Name,
			MirrorChannelID: store.PendingMirrorID,
			Kind:            store.KindCategory,
		}
		if err := t.stores.Channels.Upsert(ctx, mapping); err != nil {
			slog.Warn("topology: category not recorded", "channel", ch.Name, "error", err)
		}
		return
	default:
		return
	}

	desc := mapper.ChannelDesc{
		SourceChannelID: ch.ID,
		ServerID:        ch.GuildID,
		Name:            ch.Name,
		Kind:            kind,
		ParentSourceID:  ch.ParentID,
	}
	mapping, err := t.mapper.EnsureChannel(ctx, desc)
	if err != nil {
		slog.Error("topology: new channel not mirrored", "channel", ch.Name, "error", err)
		t.ship.Error(ctx, ch.GuildID, "auto-configure failed: "+ch.Name, err)
		return
	}
	if mapping != nil && mapping.HasMirror() {
		if err := t.Backfill(ctx, mapping); err != nil {
			slog.Warn("topology: initial backfill incomplete", "channel", ch.Name, "error", err)
		}
	}
}

// HandleThreadCreated reacts to a live THREAD_CREATE: mirror the thread
// and replay its starter messages.
func (t *Manager) HandleThreadCreated(ctx context.Context, ch *discordgo.Channel) {
	if _, ok := t.pairFor(ch.GuildID); !ok {
		return
	}
	mapping, err := t.engine.EnsureThread(ctx, ch)
	if err != nil {
		slog.Error("topology: new thread not mirrored", "thread", ch.Name, "error", err)
		return
	}
	if mapping != nil && mapping.HasMirror() {
		if err := t.Backfill(ctx, mapping); err != nil {
			slog.Warn("topology: thread backfill incomplete", "thread", ch.Name, "error", err)
		}
	}
}

func (t *Manager) pairFor(sourceServerID string) (config.Pair, bool) {
	for _, p := range t.pairs {
		if p.SourceServerID == sourceServerID {
			return p, true
		}
	}
	return config.Pair{}, false
}
