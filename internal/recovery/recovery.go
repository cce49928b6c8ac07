// Package recovery rebuilds broken correspondences: when a mirror channel
// disappears or deliveries start bouncing, it walks a three-attempt state
// machine. Attempts one and three force a full topology sync and
// re-resolve the mapping; attempt two creates the mirror object manually.
// One recovery runs per channel at a time; a short dedupe window stops a
// burst of failures from re-triggering a just-finished recovery.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/WaRyXx06/astro-relay/internal/logship"
	"github.com/WaRyXx06/astro-relay/internal/mapper"
	"github.com/WaRyXx06/astro-relay/internal/mirror"
	"github.com/WaRyXx06/astro-relay/internal/retryq"
	"github.com/WaRyXx06/astro-relay/internal/source"
	"github.com/WaRyXx06/astro-relay/internal/store"
	"github.com/WaRyXx06/astro-relay/internal/ttlcache"
	"github.com/WaRyXx06/astro-relay/internal/webhook"
)

// attemptDelays paces retries after the immediate first probe.
var attemptDelays = []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}

// resyncDelay lets the provider settle before the final forced sync.
const resyncDelay = 2 * time.Second

// recoveredWindow suppresses re-triggers right after a success.
const recoveredWindow = 5 * time.Minute

// blacklistCron is the daily boundary blacklists run until.
const blacklistCron = "30 3 * * *"

// errBlacklisted marks a recovery that ended by blacklisting the channel
// instead of restoring it. Not an operational failure.
var errBlacklisted = errors.New("recovery: channel blacklisted")

// BlacklistUntil returns the next daily maintenance boundary after now.
func BlacklistUntil(now time.Time) time.Time {
	next, err := gronx.NextTickAfter(blacklistCron, now, false)
	if err != nil {
		return now.Add(24 * time.Hour)
	}
	return next
}

// Manager coordinates per-channel recoveries.
type Manager struct {
	queue     *retryq.Queue
	rest      *source.RESTClient
	mapper    *mapper.Manager
	sender    *webhook.Sender
	channels  store.ChannelStore
	client    *mirror.Client
	ship      *logship.Shipper
	recovered *ttlcache.Cache

	// Backfill replays recent source history into a freshly recovered
	// mirror channel. Injected by the topology layer.
	Backfill func(ctx context.Context, mapping *store.ChannelMapping) error

	// ForceSync runs one full topology sync for a source server before
	// the mapping is re-resolved. Injected by the topology layer.
	ForceSync func(ctx context.Context, sourceServerID string) error
}

// NewManager builds a recovery manager on its own retry queue.
func NewManager(rest *source.RESTClient, mp *mapper.Manager, sender *webhook.Sender, channels store.ChannelStore, client *mirror.Client, ship *logship.Shipper) *Manager {
	return &Manager{
		queue:     retryq.New(),
		rest:      rest,
		mapper:    mp,
		sender:    sender,
		channels:  channels,
		client:    client,
		ship:      ship,
		recovered: ttlcache.New(recoveredWindow, 1024),
	}
}

// Stop cancels in-flight recoveries.
func (m *Manager) Stop() { m.queue.Stop() }

// Pending returns the number of in-flight recoveries.
func (m *Manager) Pending() int { return m.queue.Len() }

// Trigger starts a recovery for the given mapping. Triggers for a channel
// already recovering, or recovered within the dedupe window, are dropped.
func (m *Manager) Trigger(mapping *store.ChannelMapping) {
	key := mapping.SourceChannelID + "|" + mapping.ServerID
	if m.recovered.Has(key) {
		return
	}
	snapshot := *mapping
	attempt := 0
	m.queue.Add(retryq.Task{
		ID:     key,
		Delays: attemptDelays,
		Run: func(ctx context.Context) error {
			attempt++
			return m.attempt(ctx, &snapshot, attempt)
		},
		OnSuccess: func() {
			m.recovered.Set(key, struct{}{})
		},
		OnFailure: func(err error) {
			if errors.Is(err, errBlacklisted) {
				return
			}
			slog.Error("recovery: channel not recovered",
				"channel", snapshot.SourceChannelID, "name", snapshot.Name, "error", err)
			m.ship.Error(context.Background(), snapshot.ServerID,
				"channel recovery failed: "+snapshot.Name, err)
		},
	})
}

// step is what one attempt of the state machine does.
type step int

const (
	stepSyncResolve step = iota // force a full sync, then re-resolve
	stepCreate                  // create the mirror object manually
)

// stepFor maps the attempt number to its behavior: sync, create, sync.
func stepFor(attempt int) step {
	if attempt == 2 {
		return stepCreate
	}
	return stepSyncResolve
}

// attempt is one pass of the state machine. Every pass probes the source
// first; a denial on the second attempt or later blacklists the channel
// until the maintenance boundary.
func (m *Manager) attempt(ctx context.Context, mapping *store.ChannelMapping, attempt int) error {
	slog.Info("recovery: attempt",
		"channel", mapping.SourceChannelID, "name", mapping.Name, "attempt", attempt)

	if err := m.rest.TestChannelAccess(ctx, mapping.SourceChannelID); err != nil {
		if source.IsDenied(err) && attempt >= 2 {
			until := BlacklistUntil(time.Now())
			if blErr := m.channels.Blacklist(ctx, mapping.SourceChannelID, mapping.ServerID, until); blErr != nil {
				return fmt.Errorf("blacklist after denial: %w", blErr)
			}
			m.mapper.Invalidate(mapping.SourceChannelID, mapping.ServerID)
			slog.Warn("recovery: source denied, blacklisted",
				"channel", mapping.SourceChannelID, "until", until)
			m.queue.Cancel(mapping.SourceChannelID + "|" + mapping.ServerID)
			return errBlacklisted
		}
		return fmt.Errorf("probe source: %w", err)
	}

	// Source is readable; the break is mirror-side. Drop the stale
	// webhook handle before rebuilding.
	if mapping.HasMirror() {
		m.sender.Forget(mapping.MirrorChannelID)
	}

	if stepFor(attempt) == stepCreate {
		return m.recreate(ctx, mapping, attempt)
	}
	return m.syncAndResolve(ctx, mapping, attempt)
}

// syncAndResolve forces a full topology sync for the server, then checks
// whether the mapping now points at a live mirror channel.
func (m *Manager) syncAndResolve(ctx context.Context, mapping *store.ChannelMapping, attempt int) error {
	if attempt > 1 {
		if err := sleepCtx(ctx, resyncDelay); err != nil {
			return err
		}
	}
	if m.ForceSync != nil {
		if err := m.ForceSync(ctx, mapping.ServerID); err != nil {
			return fmt.Errorf("forced sync: %w", err)
		}
	}
	m.mapper.Invalidate(mapping.SourceChannelID, mapping.ServerID)
	fresh, err := m.mapper.Channel(ctx, mapping.SourceChannelID, mapping.ServerID)
	if err != nil {
		return fmt.Errorf("re-resolve: %w", err)
	}
	if fresh == nil || !fresh.HasMirror() {
		return errors.New("re-resolve: no live mirror after sync")
	}
	if m.client != nil && !m.client.ChannelExists(fresh.MirrorChannelID) {
		return fmt.Errorf("re-resolve: mirror channel %s is gone", fresh.MirrorChannelID)
	}
	return m.finish(ctx, mapping, fresh, attempt)
}

// recreate resets the mapping to pending and creates the mirror channel
// manually.
func (m *Manager) recreate(ctx context.Context, mapping *store.ChannelMapping, attempt int) error {
	if err := m.channels.SetMirror(ctx, mapping.SourceChannelID, mapping.ServerID, store.PendingMirrorID); err != nil {
		return fmt.Errorf("reset mirror id: %w", err)
	}
	m.mapper.Invalidate(mapping.SourceChannelID, mapping.ServerID)

	fresh, err := m.mapper.EnsureChannel(ctx, mapper.ChannelDesc{
		SourceChannelID: mapping.SourceChannelID,
		ServerID:        mapping.ServerID,
		Name:            mapping.Name,
		Kind:            mapping.Kind,
		ParentSourceID:  mapping.ParentSourceID,
	})
	if err != nil {
		return fmt.Errorf("recreate mirror: %w", err)
	}
	if fresh == nil || !fresh.HasMirror() {
		return errors.New("recreate mirror: no channel produced")
	}
	return m.finish(ctx, mapping, fresh, attempt)
}

func (m *Manager) finish(ctx context.Context, mapping, fresh *store.ChannelMapping, attempt int) error {
	if m.Backfill != nil {
		if err := m.Backfill(ctx, fresh); err != nil {
			slog.Warn("recovery: backfill incomplete",
				"channel", mapping.SourceChannelID, "error", err)
		}
	}
	slog.Info("recovery: channel restored",
		"channel", mapping.SourceChannelID, "mirror", fresh.MirrorChannelID, "attempt", attempt)
	if m.ship != nil {
		m.ship.Newroom(ctx, mapping.ServerID, mapping.Name+" (recovered)", fresh.MirrorChannelID)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
