// Package config holds the gateway configuration: JSON5 file with
// environment overrides for secrets, validated at load, hot-reloaded on
// file change. Pipeline runs read an immutable Snapshot so a reload never
// changes behavior mid-run.
package config

import (
	"fmt"
	"sync"
	"time"
)

// Config is the root configuration.
type Config struct {
	Locale     string           `json:"locale"` // "en" or "zh"
	Wake       WakeConfig       `json:"wake"`
	Reply      ReplyConfig      `json:"reply"`
	Agent      AgentConfig      `json:"agent"`
	Providers  []ProviderConfig `json:"providers"`
	Personas   []PersonaConfig  `json:"personas"`
	History    HistoryConfig    `json:"history"`
	Platforms  PlatformsConfig  `json:"platforms"`
	Moderation ModerationConfig `json:"moderation"`
	Telemetry  TelemetryConfig  `json:"telemetry"`

	mu sync.RWMutex
}

// WakeConfig controls when a group message wakes the agent.
type WakeConfig struct {
	Prefixes []string `json:"prefixes"`
	Words    []string `json:"words"`
}

// ReplyConfig controls reply decoration.
type ReplyConfig struct {
	AtSender       bool   `json:"at_sender"`
	QuoteOriginal  bool   `json:"quote_original"`
	AddPrefix      bool   `json:"add_prefix"`
	PrefixTemplate string `json:"prefix_template"` // e.g. "[{persona}] "
}

// AgentConfig bounds the orchestration loop. Timeouts are in seconds;
// retry_base_delay accepts a Go duration string ("500ms").
type AgentConfig struct {
	MaxToolRounds      int    `json:"max_tool_rounds"`
	HistoryWindow      int    `json:"history_window"`
	ProviderTimeoutSec int    `json:"provider_timeout_sec"`
	ToolTimeoutSec     int    `json:"tool_timeout_sec"`
	MaxRetries         int    `json:"max_retries"`
	RetryBaseDelay     string `json:"retry_base_delay"`
}

// ProviderTimeout returns the per-call provider deadline.
func (a AgentConfig) ProviderTimeout() time.Duration {
	if a.ProviderTimeoutSec <= 0 {
		return 120 * time.Second
	}
	return time.Duration(a.ProviderTimeoutSec) * time.Second
}

// ToolTimeout returns the per-tool execution deadline.
func (a AgentConfig) ToolTimeout() time.Duration {
	if a.ToolTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.ToolTimeoutSec) * time.Second
}

// RetryDelay parses retry_base_delay, defaulting to 500ms.
func (a AgentConfig) RetryDelay() time.Duration {
	if d, err := time.ParseDuration(a.RetryBaseDelay); err == nil && d > 0 {
		return d
	}
	return 500 * time.Millisecond
}

// ProviderConfig describes one LLM backend. Type selects the
// implementation ("openai", "anthropic"); the rest parameterize it.
type ProviderConfig struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	DisplayName string `json:"display_name"`
	Model       string `json:"model"`
	APIBaseURL  string `json:"api_base_url"`
	APIKey      string `json:"api_key"` // usually supplied via env
	Default     bool   `json:"default"`
}

// PersonaConfig is a named system prompt.
type PersonaConfig struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
	Default      bool   `json:"default"`
}

// HistoryConfig selects and bounds the conversation store.
type HistoryConfig struct {
	Backend string `json:"backend"` // "memory" or "sqlite"
	Path    string `json:"path"`    // sqlite file path
}

// PlatformsConfig enables and parameterizes the platform adapters.
type PlatformsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	OneBot   OneBotConfig   `json:"onebot"`
	DingTalk DingTalkConfig `json:"dingtalk"`
	Lark     LarkConfig     `json:"lark"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}

type OneBotConfig struct {
	Enabled     bool   `json:"enabled"`
	URL         string `json:"url"` // forward websocket, e.g. ws://127.0.0.1:3001
	AccessToken string `json:"access_token"`
	SelfID      string `json:"self_id"`
}

type DingTalkConfig struct {
	Enabled      bool   `json:"enabled"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type LarkConfig struct {
	Enabled           bool   `json:"enabled"`
	AppID             string `json:"app_id"`
	AppSecret         string `json:"app_secret"`
	Domain            string `json:"domain"`       // default open.larksuite.com
	WebhookAddr       string `json:"webhook_addr"` // listen address for event pushes
	WebhookPath       string `json:"webhook_path"`
	VerificationToken string `json:"verification_token"`
}

// ModerationConfig gates who may talk to the agent and how often.
type ModerationConfig struct {
	RateLimitPerMinute int      `json:"rate_limit_per_minute"` // 0 disables
	Whitelist          []string `json:"whitelist"`             // sender ids; empty = everyone
	Blacklist          []string `json:"blacklist"`             // sender ids; beats whitelist
}

// TelemetryConfig enables optional OTLP trace export.
type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"` // OTLP gRPC, e.g. localhost:4317
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Locale: "en",
		Wake: WakeConfig{
			Prefixes: []string{"/bot"},
		},
		Reply: ReplyConfig{
			AtSender:      true,
			QuoteOriginal: false,
		},
		Agent: AgentConfig{
			MaxToolRounds:      8,
			HistoryWindow:      20,
			ProviderTimeoutSec: 120,
			ToolTimeoutSec:     30,
			MaxRetries:         3,
			RetryBaseDelay:     "500ms",
		},
		History: HistoryConfig{
			Backend: "memory",
			Path:    "aetherbot.db",
		},
	}
}

// Snapshot returns an immutable copy for one pipeline run. Slices are
// copied so a concurrent reload cannot mutate a run in flight.
type Snapshot struct {
	Locale     string
	Wake       WakeConfig
	Reply      ReplyConfig
	Agent      AgentConfig
	Providers  []ProviderConfig
	Personas   []PersonaConfig
	Moderation ModerationConfig
}

func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		Locale:     c.Locale,
		Wake:       c.Wake,
		Reply:      c.Reply,
		Agent:      c.Agent,
		Moderation: c.Moderation,
	}
	s.Wake.Prefixes = append([]string(nil), c.Wake.Prefixes...)
	s.Wake.Words = append([]string(nil), c.Wake.Words...)
	s.Providers = append([]ProviderConfig(nil), c.Providers...)
	s.Personas = append([]PersonaConfig(nil), c.Personas...)
	s.Moderation.Whitelist = append([]string(nil), c.Moderation.Whitelist...)
	s.Moderation.Blacklist = append([]string(nil), c.Moderation.Blacklist...)
	return s
}

// DefaultProvider returns the provider marked default, or the first one.
// ok is false when no providers are configured.
func (s Snapshot) DefaultProvider() (ProviderConfig, bool) {
	for _, p := range s.Providers {
		if p.Default {
			return p, true
		}
	}
	if len(s.Providers) > 0 {
		return s.Providers[0], true
	}
	return ProviderConfig{}, false
}

// ProviderByID looks a provider up by its config id.
func (s Snapshot) ProviderByID(id string) (ProviderConfig, bool) {
	for _, p := range s.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// DefaultPersona returns the persona marked default, or the first one.
func (s Snapshot) DefaultPersona() (PersonaConfig, bool) {
	for _, p := range s.Personas {
		if p.Default {
			return p, true
		}
	}
	if len(s.Personas) > 0 {
		return s.Personas[0], true
	}
	return PersonaConfig{}, false
}

// Validate rejects configurations that cannot be wired.
func (c *Config) Validate() error {
	defaults := 0
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = true
		switch p.Type {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.ID, p.Type)
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("multiple providers marked default")
	}

	defaults = 0
	for _, p := range c.Personas {
		if p.Name == "" {
			return fmt.Errorf("persona with empty name")
		}
		if p.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("multiple personas marked default")
	}

	switch c.History.Backend {
	case "", "memory", "sqlite":
	default:
		return fmt.Errorf("history: unknown backend %q", c.History.Backend)
	}

	if c.Agent.MaxToolRounds < 0 {
		return fmt.Errorf("agent: max_tool_rounds must be >= 0")
	}
	return nil
}
