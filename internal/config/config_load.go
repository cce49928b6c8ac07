package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ASTRO_BOT_TOKEN", &c.Discord.BotToken)
	envStr("ASTRO_USER_TOKEN", &c.Discord.UserToken)
	envStr("MONGODB_URI", &c.Database.URI)
	envStr("ASTRO_DATABASE", &c.Database.Database)

	if v := os.Getenv("INACTIVE_THRESHOLD_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			c.Engine.InactiveThresholdDays = days
		}
	}
	if v := os.Getenv("DEFAULT_SCRAPE_DELAY"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Engine.ScrapeDelayMs = ms
		}
	}
	if v := os.Getenv("ALLOW_BOT_MENTIONS"); v != "" {
		c.Engine.AllowBotMentions = v == "true" || v == "1"
	}
}
