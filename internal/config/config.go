// Package config loads and validates orchestrator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all process-wide configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Session   SessionConfig   `mapstructure:"session"`
	Effort    EffortConfig    `mapstructure:"effort"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Intervene InterveneConfig `mapstructure:"intervention"`
}

// ServerConfig controls the Control API HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig gates the Control API behind a static API key.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SessionConfig holds session-level settings. DefaultMaxConcurrency sets
// the worker count per session and ShutdownWindowSeconds bounds HTTP
// shutdown; the other defaults are loaded but not applied to
// create_session, which stores the limits exactly as the caller sends them.
type SessionConfig struct {
	DefaultMaxItems       int     `mapstructure:"default_max_items"`
	DefaultMaxDurationSec int     `mapstructure:"default_max_duration_seconds"`
	DefaultMaxConcurrency int     `mapstructure:"default_max_concurrency"`
	DefaultBudgetCost     float64 `mapstructure:"default_budget_cost"`
	DefaultTimezone       string  `mapstructure:"default_timezone"`
	ShutdownWindowSeconds int     `mapstructure:"shutdown_window_seconds"`
	MaxItemDurationSec    int     `mapstructure:"max_item_duration_seconds"`
}

// EffortConfig tunes the Policy Evaluator's constant inputs.
type EffortConfig struct {
	SkipThreshold       float64 `mapstructure:"skip_threshold"`
	PerEffortCostLow    float64 `mapstructure:"per_effort_cost_low"`
	PerEffortCostMedium float64 `mapstructure:"per_effort_cost_medium"`
	PerEffortCostHigh   float64 `mapstructure:"per_effort_cost_high"`
}

// HeadlessConfig toggles the reference chromedp-backed executor.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MaxParallel   int  `mapstructure:"max_parallel"`
}

// DBConfig controls access to the relational repository.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig configures the Pub/Sub notification sink.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ArchiveConfig configures the GCS digest-archival sink.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LoggingConfig toggles zap development mode.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// InterveneConfig tunes the Intervention Bridge.
type InterveneConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Load builds a Config from an optional config file plus environment
// overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("session.default_max_items", 50)
	v.SetDefault("session.default_max_duration_seconds", 3600)
	v.SetDefault("session.default_max_concurrency", 5)
	v.SetDefault("session.default_budget_cost", 5.0)
	v.SetDefault("session.default_timezone", "UTC")
	v.SetDefault("session.shutdown_window_seconds", 30)
	v.SetDefault("session.max_item_duration_seconds", 600)
	v.SetDefault("effort.skip_threshold", 0.20)
	v.SetDefault("effort.per_effort_cost_low", 0.01)
	v.SetDefault("effort.per_effort_cost_medium", 0.05)
	v.SetDefault("effort.per_effort_cost_high", 0.15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("intervention.timeout_seconds", 300)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Session.DefaultMaxConcurrency <= 0 {
		return fmt.Errorf("session.default_max_concurrency must be > 0")
	}
	if c.Effort.SkipThreshold < 0 || c.Effort.SkipThreshold > 1 {
		return fmt.Errorf("effort.skip_threshold must be within [0,1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}

// InterventionTimeout converts the configured seconds into a Duration.
func (c Config) InterventionTimeout() time.Duration {
	return time.Duration(c.Intervene.TimeoutSeconds) * time.Second
}

// ShutdownWindow converts the configured seconds into a Duration.
func (c Config) ShutdownWindow() time.Duration {
	return time.Duration(c.Session.ShutdownWindowSeconds) * time.Second
}

// MaxItemDuration converts the configured seconds into a Duration.
func (c Config) MaxItemDuration() time.Duration {
	return time.Duration(c.Session.MaxItemDurationSec) * time.Second
}
