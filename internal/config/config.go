// Package config defines the relay configuration: a JSON5 file overlaid with
// WARELAY_* environment variables. Secrets are env-only and never persist in
// the config file.
package config

import (
	"path/filepath"
	"time"

	"github.com/thanhpd/warelay/internal/handlers"
	"github.com/thanhpd/warelay/internal/identity"
	"github.com/thanhpd/warelay/internal/outbox"
	"github.com/thanhpd/warelay/internal/presence"
	"github.com/thanhpd/warelay/internal/queue"
	"github.com/thanhpd/warelay/internal/store"
	"github.com/thanhpd/warelay/internal/telemetry"
)

// Config is the root configuration.
type Config struct {
	DataDir     string            `json:"data_dir,omitempty"` // ledgers and caches; default ~/.warelay
	Bridge      BridgeConfig      `json:"bridge"`
	Responder   ResponderConfig   `json:"responder,omitempty"`
	Calls       CallsConfig       `json:"calls,omitempty"`
	Outbox      OutboxConfig      `json:"outbox,omitempty"`
	Store       StoreConfig       `json:"store,omitempty"`
	Identity    IdentityConfig    `json:"identity,omitempty"`
	Presence    PresenceConfig    `json:"presence,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry,omitempty"`
}

// BridgeConfig points at the WebSocket bridge process owning the session.
type BridgeConfig struct {
	URL string `json:"url"` // e.g. "ws://127.0.0.1:18970/ws"
}

// ResponderConfig tunes the inbound message auto-responder.
// Durations are Go duration strings ("1400ms", "3s").
type ResponderConfig struct {
	CooldownMin   string  `json:"cooldown_min,omitempty"`
	CooldownMax   string  `json:"cooldown_max,omitempty"`
	ReadChance    float64 `json:"read_chance,omitempty"`
	ReplyTemplate string  `json:"reply_template,omitempty"` // {number} and {name} placeholders
}

// ToMessageConfig converts to handler config with defaults applied.
func (r ResponderConfig) ToMessageConfig() handlers.MessageConfig {
	cfg := handlers.DefaultMessageConfig()
	cfg.CooldownMin = dur(r.CooldownMin, cfg.CooldownMin)
	cfg.CooldownMax = dur(r.CooldownMax, cfg.CooldownMax)
	if r.ReadChance > 0 {
		cfg.ReadChance = r.ReadChance
	}
	if r.ReplyTemplate != "" {
		cfg.ReplyTemplate = r.ReplyTemplate
	}
	return cfg
}

// CallsConfig tunes the incoming-call responder.
type CallsConfig struct {
	Reject        *bool  `json:"reject,omitempty"` // default true
	Cooldown      string `json:"cooldown,omitempty"`
	ReplyTemplate string `json:"reply_template,omitempty"`
}

// ToCallConfig converts to handler config with defaults applied.
func (c CallsConfig) ToCallConfig() handlers.CallConfig {
	cfg := handlers.DefaultCallConfig()
	if c.Reject != nil {
		cfg.RejectCalls = *c.Reject
	}
	cfg.Cooldown = dur(c.Cooldown, cfg.Cooldown)
	if c.ReplyTemplate != "" {
		cfg.ReplyTemplate = c.ReplyTemplate
	}
	return cfg
}

// OutboxConfig tunes the pending-message poller and the delivery queue.
type OutboxConfig struct {
	Interval   string `json:"interval,omitempty"`
	BatchLimit int    `json:"batch_limit,omitempty"`

	MaxRetries int    `json:"max_retries,omitempty"`
	MinDelay   string `json:"min_delay,omitempty"`
	MaxDelay   string `json:"max_delay,omitempty"`
	BackoffMin string `json:"backoff_min,omitempty"`
	BackoffMax string `json:"backoff_max,omitempty"`

	// Status column values in the external outbox table.
	StatusPending *int `json:"status_pending,omitempty"`
	StatusSent    *int `json:"status_sent,omitempty"`
	StatusFailed  *int `json:"status_failed,omitempty"`
}

// ToQueueConfig converts to delivery-queue config with defaults applied.
func (o OutboxConfig) ToQueueConfig() queue.Config {
	cfg := queue.DefaultConfig()
	if o.MaxRetries > 0 {
		cfg.MaxRetries = o.MaxRetries
	}
	cfg.MinDelay = dur(o.MinDelay, cfg.MinDelay)
	cfg.MaxDelay = dur(o.MaxDelay, cfg.MaxDelay)
	cfg.BackoffMin = dur(o.BackoffMin, cfg.BackoffMin)
	cfg.BackoffMax = dur(o.BackoffMax, cfg.BackoffMax)
	return cfg
}

// ToPollerConfig converts to poller config with defaults applied.
func (o OutboxConfig) ToPollerConfig() outbox.Config {
	cfg := outbox.DefaultConfig()
	cfg.Interval = dur(o.Interval, cfg.Interval)
	if o.BatchLimit > 0 {
		cfg.BatchLimit = o.BatchLimit
	}
	return cfg
}

// ToStatusCodes converts to store status codes with defaults applied.
func (o OutboxConfig) ToStatusCodes() store.StatusCodes {
	codes := store.DefaultStatusCodes()
	if o.StatusPending != nil {
		codes.Pending = *o.StatusPending
	}
	if o.StatusSent != nil {
		codes.Sent = *o.StatusSent
	}
	if o.StatusFailed != nil {
		codes.Failed = *o.StatusFailed
	}
	return codes
}

// StoreConfig selects the backing store.
// PostgresDSN is NEVER read from the config file (secret) — only from env
// WARELAY_POSTGRES_DSN.
type StoreConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"` // default <data_dir>/relay.db
}

// IdentityConfig tunes the contact resolver cache and remote-call pacing.
type IdentityConfig struct {
	TTL         string `json:"ttl,omitempty"`          // profile cache lifetime
	FallbackTTL string `json:"fallback_ttl,omitempty"` // fallback-origin entry lifetime
	CallGap     string `json:"call_gap,omitempty"`     // min gap between remote calls
}

// ToResolverOptions converts to resolver options, caching under dataDir.
func (i IdentityConfig) ToResolverOptions(dataDir string) identity.ResolverOptions {
	return identity.ResolverOptions{
		CachePath:   filepath.Join(dataDir, "contacts.json"),
		TTL:         dur(i.TTL, identity.DefaultTTL),
		FallbackTTL: dur(i.FallbackTTL, identity.DefaultFallbackTTL),
		CallGap:     dur(i.CallGap, 1500*time.Millisecond),
	}
}

// PresenceConfig tunes the background presence loop.
type PresenceConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default true
	MinIdle string `json:"min_idle,omitempty"`
	MaxIdle string `json:"max_idle,omitempty"`
}

// LoopEnabled reports whether the presence loop should run.
func (p PresenceConfig) LoopEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// ToLoopConfig converts to presence-loop config with defaults applied.
func (p PresenceConfig) ToLoopConfig() presence.Config {
	cfg := presence.DefaultConfig()
	cfg.MinIdle = dur(p.MinIdle, cfg.MinIdle)
	cfg.MaxIdle = dur(p.MaxIdle, cfg.MaxIdle)
	return cfg
}

// MaintenanceConfig schedules the cache sweep and ledger purge.
type MaintenanceConfig struct {
	Cron         string `json:"cron,omitempty"`           // cron expression, default hourly
	LedgerMaxAge string `json:"ledger_max_age,omitempty"` // cooldown entry retention, default 30d
}

// Schedule returns the cron expression with the default applied.
func (m MaintenanceConfig) Schedule() string {
	if m.Cron != "" {
		return m.Cron
	}
	return "0 * * * *"
}

// LedgerAge returns the cooldown-ledger retention with the default applied.
func (m MaintenanceConfig) LedgerAge() time.Duration {
	return dur(m.LedgerMaxAge, 30*24*time.Hour)
}

// TelemetryConfig configures OpenTelemetry OTLP/HTTP trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	Insecure    bool              `json:"insecure,omitempty"` // set for local collectors
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"` // auth tokens for cloud backends
}

// ToOptions converts to telemetry setup options.
func (t TelemetryConfig) ToOptions() telemetry.Options {
	name := t.ServiceName
	if name == "" {
		name = "warelay"
	}
	return telemetry.Options{
		Enabled:     t.Enabled,
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		ServiceName: name,
		Headers:     t.Headers,
	}
}

// DataPath returns the expanded data directory.
func (c *Config) DataPath() string {
	return ExpandHome(c.DataDir)
}

// SQLitePath returns the expanded SQLite database path.
func (c *Config) SQLitePath() string {
	if c.Store.SQLitePath != "" {
		return ExpandHome(c.Store.SQLitePath)
	}
	return filepath.Join(c.DataPath(), "relay.db")
}

// CooldownLedgerPath returns the cooldown ledger file path.
func (c *Config) CooldownLedgerPath() string {
	return filepath.Join(c.DataPath(), "cooldowns.json")
}

// dur parses a Go duration string, falling back to def when empty or invalid.
func dur(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
