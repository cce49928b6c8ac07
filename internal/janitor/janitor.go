// Package janitor runs nightly maintenance at the same boundary channel
// blacklists expire on: it lifts expired blacklists, invalidates the
// affected cache entries and reports mirrors that have gone inactive.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/logship"
	"github.com/WaRyXx06/astro-relay/internal/mapper"
	"github.com/WaRyXx06/astro-relay/internal/store"
)

// maintenanceCron fires once a night, after the quiet hours start.
const maintenanceCron = "30 3 * * *"

// Janitor owns the nightly pass.
type Janitor struct {
	channels store.ChannelStore
	members  store.MemberStore
	mapper   *mapper.Manager
	ship     *logship.Shipper
	pairs    []config.Pair
	inactive time.Duration
	now      func() time.Time
}

// New builds a janitor. inactiveDays bounds how long a mirror may sit
// without traffic before it is reported.
func New(channels store.ChannelStore, members store.MemberStore, mp *mapper.Manager, ship *logship.Shipper, pairs []config.Pair, inactiveDays int) *Janitor {
	if inactiveDays <= 0 {
		inactiveDays = 30
	}
	return &Janitor{
		channels: channels,
		members:  members,
		mapper:   mp,
		ship:     ship,
		pairs:    pairs,
		inactive: time.Duration(inactiveDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

// Run sleeps until each nightly boundary and executes the pass.
func (j *Janitor) Run(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(maintenanceCron, j.now(), false)
		if err != nil {
			slog.Error("janitor: schedule parse failed", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			j.pass(ctx)
		}
	}
}

func (j *Janitor) pass(ctx context.Context) {
	now := j.now()
	for _, pair := range j.pairs {
		lifted, err := j.channels.ClearExpiredBlacklists(ctx, pair.SourceServerID, now)
		if err != nil {
			slog.Error("janitor: blacklist sweep failed", "server", pair.SourceServerID, "error", err)
			continue
		}
		if lifted > 0 {
			slog.Info("janitor: blacklists lifted", "server", pair.SourceServerID, "count", lifted)
			j.reloadCache(ctx, pair.SourceServerID)
		}
		j.reportInactive(ctx, pair, now)
	}
	rescored, err := j.members.RecomputeDanger(ctx)
	if err != nil {
		slog.Error("janitor: danger rescore failed", "error", err)
	} else if rescored > 0 {
		slog.Info("janitor: danger levels rescored", "count", rescored)
	}
}

// reloadCache invalidates mappings whose blacklist state just changed.
func (j *Janitor) reloadCache(ctx context.Context, serverID string) {
	mappings, err := j.channels.ListByServer(ctx, serverID)
	if err != nil {
		return
	}
	for _, m := range mappings {
		j.mapper.Invalidate(m.SourceChannelID, serverID)
	}
}

// reportInactive ships one admin note naming mirrors without traffic past
// the inactivity threshold. Deleting them stays an operator decision.
func (j *Janitor) reportInactive(ctx context.Context, pair config.Pair, now time.Time) {
	mappings, err := j.channels.ListScraped(ctx, pair.SourceServerID)
	if err != nil {
		return
	}
	cutoff := now.Add(-j.inactive)
	stale := 0
	for _, m := range mappings {
		if !m.HasMirror() || m.LastActivity.IsZero() {
			continue
		}
		if m.LastActivity.Before(cutoff) {
			stale++
		}
	}
	if stale == 0 {
		return
	}
	j.ship.Admin(ctx, pair.SourceServerID, "inactive mirrors",
		fmt.Sprintf("%d channels have had no traffic for over %d days. Run `/autoclean` to reclaim them.",
			stale, int(j.inactive.Hours()/24)))
}
