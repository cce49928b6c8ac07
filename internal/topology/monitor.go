package topology

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/recovery"
	"github.com/WaRyXx06/astro-relay/internal/source"
)

// RunMonitor is the channel monitor: every monitor interval it discovers
// new source channels and probes access on the active ones, independent
// of the adaptive sync ladder so a lost channel never waits out the
// hourly rung.
func (t *Manager) RunMonitor(ctx context.Context) {
	t.monitorPass(ctx)
	ticker := time.NewTicker(t.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.monitorPass(ctx)
		}
	}
}

func (t *Manager) monitorPass(ctx context.Context) {
	for _, pair := range t.pairs {
		if ctx.Err() != nil {
			return
		}
		if c, _ := t.syncChannels(ctx, pair); c > 0 {
			slog.Info("monitor: source channels discovered",
				"server", pair.SourceServerID, "count", c)
		}
		t.probeAccess(ctx, pair)
	}
}

// probeAccess verifies the session can still read every active channel.
// A denied probe blacklists the channel until the maintenance boundary;
// channels past the silent retry cap are skipped without noise. Probes are
// paced by the scrape delay so a large server does not burst the API.
func (t *Manager) probeAccess(ctx context.Context, pair config.Pair) int {
	if n, err := t.stores.Channels.ClearExpiredBlacklists(ctx, pair.SourceServerID, time.Now()); err == nil && n > 0 {
		slog.Info("topology: blacklists expired", "server", pair.SourceServerID, "count", n)
	}

	mappings, err := t.stores.Channels.ListScraped(ctx, pair.SourceServerID)
	if err != nil {
		slog.Error("topology: scraped list failed", "server", pair.SourceServerID, "error", err)
		return 0
	}

	changes := 0
	for _, m := range mappings {
		if ctx.Err() != nil {
			return changes
		}
		if m.Blacklisted || m.Kind.IsThread() {
			continue
		}
		if m.FailedAttempts >= silentRetryCap {
			continue
		}

		err := t.rest.TestChannelAccess(ctx, m.SourceChannelID)
		if err == nil {
			t.sleep(ctx)
			continue
		}
		if !source.IsDenied(err) {
			slog.Debug("topology: probe inconclusive", "channel", m.Name, "error", err)
			t.sleep(ctx)
			continue
		}

		until := recovery.BlacklistUntil(time.Now())
		if blErr := t.stores.Channels.Blacklist(ctx, m.SourceChannelID, m.ServerID, until); blErr != nil {
			slog.Error("topology: blacklist write failed", "channel", m.Name, "error", blErr)
			t.sleep(ctx)
			continue
		}
		t.mapper.Invalidate(m.SourceChannelID, m.ServerID)
		changes++
		slog.Warn("topology: channel access lost, blacklisted",
			"channel", m.Name, "until", until, "failed_attempts", m.FailedAttempts+1)
		if m.FailedAttempts+1 < silentRetryCap {
			t.ship.Admin(ctx, m.ServerID, "channel blacklisted: "+m.Name,
				fmt.Sprintf("Access denied; retrying after %s. Attempt %d of %d.",
					until.Format(time.Kitchen), m.FailedAttempts+1, silentRetryCap))
		}
		t.sleep(ctx)
	}
	return changes
}

func (t *Manager) sleep(ctx context.Context) {
	if t.scrapeDelay <= 0 {
		return
	}
	timer := time.NewTimer(t.scrapeDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
