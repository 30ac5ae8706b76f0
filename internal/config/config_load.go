package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir: "~/.warelay",
		Bridge: BridgeConfig{
			URL: "ws://127.0.0.1:18970/ws",
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields defaults plus env, not an error.
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
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("WARELAY_DATA_DIR", &c.DataDir)
	envStr("WARELAY_BRIDGE_URL", &c.Bridge.URL)

	// Store
	envStr("WARELAY_STORE_DRIVER", &c.Store.Driver)
	envStr("WARELAY_POSTGRES_DSN", &c.Store.PostgresDSN)
	envStr("WARELAY_SQLITE_PATH", &c.Store.SQLitePath)

	// Responder
	envStr("WARELAY_REPLY_TEMPLATE", &c.Responder.ReplyTemplate)
	if v := os.Getenv("WARELAY_REJECT_CALLS"); v != "" {
		reject := v == "true" || v == "1"
		c.Calls.Reject = &reject
	}

	// Outbox
	if v := os.Getenv("WARELAY_OUTBOX_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Outbox.BatchLimit = n
		}
	}
	envStr("WARELAY_OUTBOX_INTERVAL", &c.Outbox.Interval)

	// Telemetry
	envBool("WARELAY_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envStr("WARELAY_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("WARELAY_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("WARELAY_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"` and
// never reach disk.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
