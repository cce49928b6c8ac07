// Package activity watches the per-pair message flow and raises silence
// alerts when a source server goes quiet for longer than its time-of-day
// threshold. Quiet nights tolerate longer gaps and never ping @everyone.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/WaRyXx06/astro-relay/internal/config"
	"github.com/WaRyXx06/astro-relay/internal/mirror"
)

const (
	thresholdWeekday = 45 * time.Minute
	thresholdWeekend = 90 * time.Minute
	thresholdNight   = 3 * time.Hour

	// repeatInterval spaces follow-up alerts while a server stays silent.
	repeatInterval = 45 * time.Minute

	colorAlert    = 0xE67E22
	colorRecovery = 0x2ECC71
)

// Threshold returns the silence threshold in effect at t and whether an
// alert at that time may ping @everyone. Night runs 23:00 to 07:00 local.
func Threshold(t time.Time) (time.Duration, bool) {
	hour := t.Hour()
	if hour >= 23 || hour < 7 {
		return thresholdNight, false
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return thresholdWeekend, true
	default:
		return thresholdWeekday, true
	}
}

type pairState struct {
	lastEvent time.Time
	alerting  bool
	silentAt  time.Time // lastEvent when the alert fired
	lastAlert time.Time
}

// Monitor tracks message flow per source server.
type Monitor struct {
	client   *mirror.Client
	pairs    map[string]config.Pair
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	state map[string]*pairState
}

// NewMonitor builds a monitor ticking at the given interval.
func NewMonitor(client *mirror.Client, pairs []config.Pair, interval time.Duration) *Monitor {
	m := &Monitor{
		client:   client,
		pairs:    make(map[string]config.Pair, len(pairs)),
		interval: interval,
		now:      time.Now,
		state:    make(map[string]*pairState, len(pairs)),
	}
	for _, p := range pairs {
		m.pairs[p.SourceServerID] = p
		m.state[p.SourceServerID] = &pairState{lastEvent: m.now()}
	}
	return m
}

// Record notes one replicated message for a source server. Recovery from
// an active alert ships the green notice immediately.
func (m *Monitor) Record(sourceServerID string) {
	now := m.now()
	m.mu.Lock()
	st, ok := m.state[sourceServerID]
	if !ok {
		m.mu.Unlock()
		return
	}
	wasAlerting := st.alerting
	downtime := now.Sub(st.silentAt)
	st.lastEvent = now
	st.alerting = false
	m.mu.Unlock()

	if wasAlerting {
		go m.shipRecovery(sourceServerID, downtime)
	}
}

// Run ticks until ctx cancels.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) sweep() {
	now := m.now()
	threshold, pingAllowed := Threshold(now)

	type due struct {
		serverID string
		silence  time.Duration
	}
	var fire []due

	m.mu.Lock()
	for id, st := range m.state {
		silence := now.Sub(st.lastEvent)
		if silence < threshold {
			continue
		}
		if st.alerting && now.Sub(st.lastAlert) < repeatInterval {
			continue
		}
		if !st.alerting {
			st.silentAt = st.lastEvent
		}
		st.alerting = true
		st.lastAlert = now
		fire = append(fire, due{serverID: id, silence: silence})
	}
	m.mu.Unlock()

	for _, d := range fire {
		m.shipAlert(d.serverID, d.silence, pingAllowed)
	}
}

func (m *Monitor) shipAlert(sourceServerID string, silence time.Duration, pingAllowed bool) {
	pair, ok := m.pairs[sourceServerID]
	if !ok || pair.ErrorChannelID == "" {
		return
	}
	content := ""
	if pingAllowed {
		content = "@everyone"
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Source server gone quiet",
		Description: fmt.Sprintf("No messages replicated for **%s**. The session may be dead or the server genuinely idle.", round(silence)),
		Color:       colorAlert,
		Footer:      &discordgo.MessageEmbedFooter{Text: "next alert in 45 min"},
		Timestamp:   m.now().Format(time.RFC3339),
	}
	if err := m.client.SendEmbed(pair.ErrorChannelID, embed, content); err != nil {
		slog.Error("activity: alert not delivered", "server", sourceServerID, "error", err)
	}
}

func (m *Monitor) shipRecovery(sourceServerID string, downtime time.Duration) {
	pair, ok := m.pairs[sourceServerID]
	if !ok || pair.ErrorChannelID == "" {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Message flow recovered",
		Description: fmt.Sprintf("Replication resumed after **%s** of silence.", round(downtime)),
		Color:       colorRecovery,
		Timestamp:   m.now().Format(time.RFC3339),
	}
	if err := m.client.SendEmbed(pair.ErrorChannelID, embed, ""); err != nil {
		slog.Error("activity: recovery notice not delivered", "server", sourceServerID, "error", err)
	}
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Minute)
}
