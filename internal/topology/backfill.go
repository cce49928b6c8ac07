package topology

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/WaRyXx06/astro-relay/internal/store"
)

// Backfill replays the most recent source history into a mirror channel,
// oldest first, skipping anything already committed. Sends are paced by
// the scrape delay. Used after recovery and on auto-configured channels.
func (t *Manager) Backfill(ctx context.Context, mapping *store.ChannelMapping) error {
	limit := t.backfillLimit
	if limit <= 0 {
		limit = 50
	}
	msgs, err := t.rest.FetchChannelMessages(ctx, mapping.SourceChannelID, limit, "", "")
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", mapping.SourceChannelID, err)
	}
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	done, err := t.stores.Messages.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("dedupe history for %s: %w", mapping.SourceChannelID, err)
	}

	replayed := 0
	// The API returns newest first; replay in source order.
	for i := len(msgs) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m := msgs[i]
		if done[m.ID] {
			continue
		}
		if m.GuildID == "" {
			m.GuildID = mapping.ServerID
		}
		if err := t.engine.ProcessMessage(ctx, m); err != nil {
			slog.Warn("topology: backfill message skipped",
				"channel", mapping.Name, "message", m.ID, "error", err)
			continue
		}
		replayed++
		t.sleep(ctx)
	}
	slog.Info("topology: backfill complete",
		"channel", mapping.Name, "replayed", replayed, "window", len(msgs))
	return nil
}
