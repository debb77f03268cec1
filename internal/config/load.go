package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads the JSON5 config file, overlays environment variables, and
// validates the result. A missing file is not an error; defaults plus env
// apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json5.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults + env
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays AETHERBOT_* environment variables. Secrets are
// expected here rather than in the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("AETHERBOT_LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv("AETHERBOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Platforms.Telegram.Token = v
		cfg.Platforms.Telegram.Enabled = true
	}
	if v := os.Getenv("AETHERBOT_DISCORD_TOKEN"); v != "" {
		cfg.Platforms.Discord.Token = v
		cfg.Platforms.Discord.Enabled = true
	}
	if v := os.Getenv("AETHERBOT_ONEBOT_URL"); v != "" {
		cfg.Platforms.OneBot.URL = v
		cfg.Platforms.OneBot.Enabled = true
	}
	if v := os.Getenv("AETHERBOT_ONEBOT_TOKEN"); v != "" {
		cfg.Platforms.OneBot.AccessToken = v
	}
	if v := os.Getenv("AETHERBOT_DINGTALK_CLIENT_ID"); v != "" {
		cfg.Platforms.DingTalk.ClientID = v
		cfg.Platforms.DingTalk.Enabled = true
	}
	if v := os.Getenv("AETHERBOT_DINGTALK_CLIENT_SECRET"); v != "" {
		cfg.Platforms.DingTalk.ClientSecret = v
	}
	if v := os.Getenv("AETHERBOT_LARK_APP_ID"); v != "" {
		cfg.Platforms.Lark.AppID = v
		cfg.Platforms.Lark.Enabled = true
	}
	if v := os.Getenv("AETHERBOT_LARK_APP_SECRET"); v != "" {
		cfg.Platforms.Lark.AppSecret = v
	}
	if v := os.Getenv("AETHERBOT_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := os.Getenv("AETHERBOT_MAX_TOOL_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Agent.MaxToolRounds = n
		}
	}

	// Provider API keys: AETHERBOT_PROVIDER_KEY applies to all providers
	// missing a key, for the common single-backend setup.
	if v := os.Getenv("AETHERBOT_PROVIDER_KEY"); v != "" {
		for i := range cfg.Providers {
			if cfg.Providers[i].APIKey == "" {
				cfg.Providers[i].APIKey = v
			}
		}
	}
}

// apply replaces the mutable sections under lock. Used by the watcher on
// hot reload; the mutex itself is never copied.
func (c *Config) apply(fresh *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Locale = fresh.Locale
	c.Wake = fresh.Wake
	c.Reply = fresh.Reply
	c.Agent = fresh.Agent
	c.Providers = fresh.Providers
	c.Personas = fresh.Personas
	c.Moderation = fresh.Moderation
}
