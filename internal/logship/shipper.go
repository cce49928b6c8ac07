// Package logship delivers operator-facing notifications: embeds into the
// per-pair error, newroom and admin channels, plus persisted log rows.
// Shipping is best-effort; a failed embed degrades to a local log line and
// never blocks the replication path.
package logship

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/mirror"
	"github.com/WaRyXx06/astro-relay/internal/store"
	"github.com/WaRyXx06/astro-relay/internal/ttlcache"
)

const (
	colorError    = 0xE74C3C
	colorCritical = 0x992D22
	colorNewroom  = 0x2ECC71
	colorAdmin    = 0x3498DB
	colorWarning  = 0xE67E22
)

// errorThrottle suppresses repeats of the same error signature.
const errorThrottle = 10 * time.Minute

// Shipper routes notifications to the mirror-side operator channels.
type Shipper struct {
	client   *mirror.Client
	logs     store.LogStore
	pairs    map[string]config.Pair // by source server id
	byMirror map[string]config.Pair // by mirror server id
	throttle *ttlcache.Cache
}

// NewShipper builds a shipper for the configured pairs.
func NewShipper(client *mirror.Client, logs store.LogStore, pairs []config.Pair) *Shipper {
	s := &Shipper{
		client:   client,
		logs:     logs,
		pairs:    make(map[string]config.Pair, len(pairs)),
		byMirror: make(map[string]config.Pair, len(pairs)),
		throttle: ttlcache.New(errorThrottle, 512),
	}
	for _, p := range pairs {
		s.pairs[p.SourceServerID] = p
		s.byMirror[p.MirrorServerID] = p
	}
	return s
}

// Error ships an error embed to the pair's error channel. Repeats of the
// same title within the throttle window are dropped. Quota exhaustion
// escalates to a critical @everyone alert with the purge remediation.
func (s *Shipper) Error(ctx context.Context, sourceServerID, title string, err error) {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.persist(ctx, store.LogEntry{
		Kind: store.LogError, ServerID: sourceServerID,
		Message: title, Detail: detail, Timestamp: time.Now(),
	})

	if s.throttle.MarkOnce(sourceServerID + "|" + title) {
		return
	}

	pair, ok := s.pairs[sourceServerID]
	if !ok || pair.ErrorChannelID == "" {
		slog.Error("logship: no error channel", "server", sourceServerID, "title", title, "error", err)
		return
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: clampDescription(detail),
		Color:       colorError,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	content := ""
	if store.IsQuotaExceeded(err) {
		embed.Color = colorCritical
		embed.Title = "CRITICAL: storage quota exhausted"
		embed.Fields = []*discordgo.MessageEmbedField{{
			Name:  "Remediation",
			Value: "Run `/purge-logs` to reclaim space. Replication state is at risk until storage is freed.",
		}}
		content = "@everyone"
	}
	s.ship(pair.ErrorChannelID, embed, content)
}

// Newroom announces a newly mirrored channel in the pair's newroom channel.
func (s *Shipper) Newroom(ctx context.Context, sourceServerID, channelName, mirrorChannelID string) {
	s.persist(ctx, store.LogEntry{
		Kind: store.LogNewroom, ServerID: sourceServerID,
		Message: channelName, Detail: mirrorChannelID, Timestamp: time.Now(),
	})
	pair, ok := s.pairs[sourceServerID]
	if !ok || pair.NewroomChannelID == "" {
		return
	}
	s.ship(pair.NewroomChannelID, &discordgo.MessageEmbed{
		Title:       "New channel mirrored",
		Description: fmt.Sprintf("**%s** is now replicating into <#%s>.", channelName, mirrorChannelID),
		Color:       colorNewroom,
		Timestamp:   time.Now().Format(time.RFC3339),
	}, "")
}

// Admin ships an informational embed to the pair's admin channel.
func (s *Shipper) Admin(ctx context.Context, sourceServerID, title, detail string) {
	s.persist(ctx, store.LogEntry{
		Kind: store.LogAdmin, ServerID: sourceServerID,
		Message: title, Detail: detail, Timestamp: time.Now(),
	})
	pair, ok := s.pairs[sourceServerID]
	if !ok || pair.AdminChannelID == "" {
		return
	}
	s.ship(pair.AdminChannelID, &discordgo.MessageEmbed{
		Title:       title,
		Description: clampDescription(detail),
		Color:       colorAdmin,
		Timestamp:   time.Now().Format(time.RFC3339),
	}, "")
}

// CapWarning fires the single near-ceiling channel warning for a mirror.
func (s *Shipper) CapWarning(mirrorServerID string, count int64) {
	pair, ok := s.byMirror[mirrorServerID]
	if !ok {
		return
	}
	s.persist(context.Background(), store.LogEntry{
		Kind: store.LogAdmin, ServerID: pair.SourceServerID,
		Message: "channel cap approaching",
		Detail:  fmt.Sprintf("%d of %d", count, mirror.ChannelCap),
	})
	target := pair.AdminChannelID
	if target == "" {
		target = pair.ErrorChannelID
	}
	if target == "" {
		return
	}
	s.ship(target, &discordgo.MessageEmbed{
		Title: "Channel cap approaching",
		Description: fmt.Sprintf(
			"The mirror holds %d of %d channels. Run `/autoclean` to drop inactive mirrors before the ceiling blocks new ones.",
			count, mirror.ChannelCap),
		Color:     colorWarning,
		Timestamp: time.Now().Format(time.RFC3339),
	}, "")
}

// AutoStart records an engine startup note for one pair.
func (s *Shipper) AutoStart(ctx context.Context, sourceServerID, detail string) {
	s.persist(ctx, store.LogEntry{
		Kind: store.LogAutoStart, ServerID: sourceServerID,
		Message: "engine started", Detail: detail, Timestamp: time.Now(),
	})
}

// Roles ships a role-ping notification into the pair's admin channel,
// falling back to the error channel when none is configured.
func (s *Shipper) Roles(ctx context.Context, sourceServerID, channelName, roleID, messageURL string) {
	s.persist(ctx, store.LogEntry{
		Kind: store.LogRoles, ServerID: sourceServerID,
		Message: channelName, Detail: roleID, Timestamp: time.Now(),
	})
	pair, ok := s.pairs[sourceServerID]
	if !ok {
		return
	}
	target := pair.AdminChannelID
	if target == "" {
		target = pair.ErrorChannelID
	}
	if target == "" {
		return
	}
	s.ship(target, &discordgo.MessageEmbed{
		Title:       "Role pinged in " + channelName,
		Description: fmt.Sprintf("<@&%s> was mentioned. [Jump to message](%s)", roleID, messageURL),
		Color:       colorAdmin,
		Timestamp:   time.Now().Format(time.RFC3339),
	}, "")
}

// Members records a census note (detector runs, purges).
func (s *Shipper) Members(ctx context.Context, sourceServerID, message, detail string) {
	s.persist(ctx, store.LogEntry{
		Kind: store.LogMembers, ServerID: sourceServerID,
		Message: message, Detail: detail, Timestamp: time.Now(),
	})
}

func (s *Shipper) ship(channelID string, embed *discordgo.MessageEmbed, content string) {
	if err := s.client.SendEmbed(channelID, embed, content); err != nil {
		slog.Error("logship: embed delivery failed", "channel", channelID, "title", embed.Title, "error", err)
	}
}

func (s *Shipper) persist(ctx context.Context, e store.LogEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if err := s.logs.Append(ctx, &e); err != nil {
		slog.Error("logship: log row not persisted", "kind", e.Kind, "error", err)
	}
}

func clampDescription(s string) string {
	const max = 4000
	if len(s) > max {
		return s[:max]
	}
	return s
}
