package config

import (
	"fmt"
	"sync"
	"time"
)

// Pair binds one source server (observed with a user session) to one mirror
// server (fully controlled). A mirror belongs to exactly one source.
type Pair struct {
	SourceServerID string `json:"source_server_id"`
	MirrorServerID string `json:"mirror_server_id"`

	// Log channel ids on the mirror side. Empty disables that log sink.
	ErrorChannelID   string `json:"error_channel_id,omitempty"`
	NewroomChannelID string `json:"newroom_channel_id,omitempty"`
	AdminChannelID   string `json:"admin_channel_id,omitempty"`

	// IgnoreChannels are source channel ids that are never replicated
	// even when accessible.
	IgnoreChannels []string `json:"ignore_channels,omitempty"`
}

// Config is the root configuration for the relay engine.
type Config struct {
	Pairs    []Pair         `json:"pairs"`
	Discord  DiscordConfig  `json:"discord"`
	Database DatabaseConfig `json:"database"`
	Engine   EngineConfig   `json:"engine"`
	mu       sync.RWMutex
}

// DiscordConfig holds the two transport credentials.
// Tokens are NEVER read from the config file — env only.
type DiscordConfig struct {
	BotToken  string `json:"-"` // ASTRO_BOT_TOKEN
	UserToken string `json:"-"` // ASTRO_USER_TOKEN
}

// DatabaseConfig configures the Mongo store.
// The DSN is env-only (MONGODB_URI).
type DatabaseConfig struct {
	URI      string `json:"-"`
	Database string `json:"database,omitempty"` // default "astro"
}

// EngineConfig carries the tunables of the replication loops.
type EngineConfig struct {
	// ScrapeDelayMs is the minimum spacing between source history fetches
	// during backfill. Overridable via DEFAULT_SCRAPE_DELAY.
	ScrapeDelayMs int `json:"scrape_delay_ms,omitempty"`

	// InactiveThresholdDays controls when a source channel counts as dormant
	// for the monitor's census. Overridable via INACTIVE_THRESHOLD_DAYS.
	InactiveThresholdDays int `json:"inactive_threshold_days,omitempty"`

	// AllowBotMentions lets replicated role mentions fire for messages
	// authored by bots. Overridable via ALLOW_BOT_MENTIONS.
	AllowBotMentions bool `json:"allow_bot_mentions,omitempty"`

	// MonitorIntervalMin is the channel-monitor cadence. Default 10.
	MonitorIntervalMin int `json:"monitor_interval_min,omitempty"`

	// BackfillLimit is how many source messages a recovered or newly
	// configured channel pulls. Default 50.
	BackfillLimit int `json:"backfill_limit,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Database: "astro",
		},
		Engine: EngineConfig{
			ScrapeDelayMs:         1200,
			InactiveThresholdDays: 30,
			MonitorIntervalMin:    10,
			BackfillLimit:         50,
		},
	}
}

// MonitorInterval returns the channel monitor cadence as a duration.
func (c *Config) MonitorInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.Engine.MonitorIntervalMin
	if m <= 0 {
		m = 10
	}
	return time.Duration(m) * time.Minute
}

// ScrapeDelay returns the backfill fetch spacing as a duration.
func (c *Config) ScrapeDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ms := c.Engine.ScrapeDelayMs
	if ms <= 0 {
		ms = 1200
	}
	return time.Duration(ms) * time.Millisecond
}

// Validate checks the fatal invariants: transports, store DSN, and at least
// one server pair. A failure here must abort startup with a non-zero exit.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Discord.BotToken == "" {
		return fmt.Errorf("missing ASTRO_BOT_TOKEN")
	}
	if c.Discord.UserToken == "" {
		return fmt.Errorf("missing ASTRO_USER_TOKEN")
	}
	if c.Database.URI == "" {
		return fmt.Errorf("missing MONGODB_URI")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("no server pairs configured")
	}
	seen := make(map[string]string, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.SourceServerID == "" || p.MirrorServerID == "" {
			return fmt.Errorf("pair missing source or mirror server id")
		}
		if prev, ok := seen[p.MirrorServerID]; ok {
			return fmt.Errorf("mirror %s paired with both %s and %s", p.MirrorServerID, prev, p.SourceServerID)
		}
		seen[p.MirrorServerID] = p.SourceServerID
	}
	return nil
}
