// Package config holds the runtime configuration, loaded from a JSON5 file
// with env var overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the modgate bot.
type Config struct {
	Discord  DiscordConfig  `json:"discord"`
	Model    ModelConfig    `json:"model"`
	Pipeline PipelineConfig `json:"pipeline"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Tracing  TracingConfig  `json:"tracing,omitempty"`
}

// DiscordConfig configures the gateway connection.
// Token is never read from the config file, only from env MODGATE_DISCORD_TOKEN.
type DiscordConfig struct {
	Token string `json:"-"`
}

// ModelConfig points at an OpenAI-compatible decision service.
type ModelConfig struct {
	APIKey  string `json:"-"` // from env MODGATE_API_KEY only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model"`
}

// PipelineConfig tunes batching, history, and throughput.
type PipelineConfig struct {
	FlushIntervalSeconds int `json:"flush_interval_seconds"`
	HistoryCap           int `json:"history_cap"`
	HistoryTTLSeconds    int `json:"history_ttl_seconds"`
	QueueSize            int `json:"queue_size"`
	BatchSize            int `json:"batch_size"`
	BatchDelayMs         int `json:"batch_delay_ms"`
	PastActionsLookbackM int `json:"past_actions_lookback_minutes"`
	ActionsPerSecond     int `json:"actions_per_second"`
}

func (p PipelineConfig) PastActionsLookback() time.Duration {
	return time.Duration(p.PastActionsLookbackM) * time.Minute
}

func (p PipelineConfig) FlushInterval() time.Duration {
	return time.Duration(p.FlushIntervalSeconds) * time.Second
}

func (p PipelineConfig) HistoryTTL() time.Duration {
	return time.Duration(p.HistoryTTLSeconds) * time.Second
}

func (p PipelineConfig) BatchDelay() time.Duration {
	return time.Duration(p.BatchDelayMs) * time.Millisecond
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	Path string `json:"path"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// TracingConfig enables OTLP trace export. An empty endpoint leaves tracing
// off.
type TracingConfig struct {
	Endpoint string `json:"endpoint,omitempty"` // e.g. "localhost:4318"
	Insecure bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Pipeline: PipelineConfig{
			FlushIntervalSeconds: 10,
			HistoryCap:           12,
			HistoryTTLSeconds:    3600,
			QueueSize:            32,
			BatchSize:            4,
			BatchDelayMs:         100,
			PastActionsLookbackM: 10080,
			ActionsPerSecond:     5,
		},
		Storage: StorageConfig{
			Path: "~/.modgate/modgate.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; env vars alone can carry a full deployment.
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
	envStr("MODGATE_DISCORD_TOKEN", &c.Discord.Token)
	envStr("MODGATE_API_KEY", &c.Model.APIKey)
	envStr("MODGATE_API_BASE", &c.Model.APIBase)
	envStr("MODGATE_MODEL", &c.Model.Model)
	envStr("MODGATE_DB_PATH", &c.Storage.Path)
	envStr("MODGATE_LOG_LEVEL", &c.Logging.Level)
	envStr("MODGATE_LOG_FORMAT", &c.Logging.Format)
	envStr("MODGATE_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v := os.Getenv("MODGATE_FLUSH_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.FlushIntervalSeconds = n
		}
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}

// Validate rejects configs that cannot start.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord token missing (set MODGATE_DISCORD_TOKEN)")
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model API key missing (set MODGATE_API_KEY)")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model name missing")
	}
	return nil
}
