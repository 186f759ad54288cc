// Package config loads collector runtime configuration from an optional
// YAML file overlaid with environment variables, following the same
// safe-parse-or-default idiom the rest of the stack uses for env
// ingestion.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the collector needs at startup.
type Config struct {
	Supabase SupabaseConfig `yaml:"supabase"`
	CLIProxy CLIProxyConfig `yaml:"cliproxy"`
	Collector CollectorConfig `yaml:"collector"`
	Security SecurityConfig `yaml:"security"`
}

// SupabaseConfig carries the datastore connection coordinates. The name
// follows the upstream environment variables even though the store
// itself talks plain Postgres wire protocol.
type SupabaseConfig struct {
	URL       string `yaml:"url"`
	SecretKey string `yaml:"secret_key"`
}

// CLIProxyConfig carries the upstream management API coordinates.
type CLIProxyConfig struct {
	URL            string `yaml:"url"`
	ManagementKey string `yaml:"management_key"`
}

// CollectorConfig carries scheduling and server tunables.
type CollectorConfig struct {
	IntervalSeconds   int    `yaml:"interval_seconds"`
	TriggerPort       int    `yaml:"trigger_port"`
	TimezoneOffsetHrs int    `yaml:"timezone_offset_hours"`
	PricingCacheURL   string `yaml:"pricing_cache_url"`
}

// SecurityConfig carries logging/debug toggles.
type SecurityConfig struct {
	Debug   bool   `yaml:"debug"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config populated with the documented defaults,
// before any file or environment overlay is applied.
func Default() *Config {
	return &Config{
		Collector: CollectorConfig{
			IntervalSeconds:   300,
			TriggerPort:       5001,
			TimezoneOffsetHrs: 7,
		},
	}
}

// Load builds a Config by starting from Default, overlaying an optional
// YAML file at path (skipped silently if empty or missing), then
// overlaying environment variables, which always take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SUPABASE_URL")); v != "" {
		cfg.Supabase.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("SUPABASE_SECRET_KEY")); v != "" {
		cfg.Supabase.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPROXY_URL")); v != "" {
		cfg.CLIProxy.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPROXY_MANAGEMENT_KEY")); v != "" {
		cfg.CLIProxy.ManagementKey = v
	}
	cfg.Collector.IntervalSeconds = parseIntOrDefault("COLLECTOR_INTERVAL_SECONDS", cfg.Collector.IntervalSeconds)
	cfg.Collector.TriggerPort = parsePortOrDefault("COLLECTOR_TRIGGER_PORT", cfg.Collector.TriggerPort)
	cfg.Collector.TimezoneOffsetHrs = parseIntOrDefault("TIMEZONE_OFFSET_HOURS", cfg.Collector.TimezoneOffsetHrs)
	if v := strings.TrimSpace(os.Getenv("PRICING_CACHE_URL")); v != "" {
		cfg.Collector.PricingCacheURL = v
	}

	if v := strings.TrimSpace(os.Getenv("COLLECTOR_DEBUG")); v != "" {
		cfg.Security.Debug = v == "1" || strings.EqualFold(v, "true")
	}
	if v := strings.TrimSpace(os.Getenv("COLLECTOR_LOG_FILE")); v != "" {
		cfg.Security.LogFile = v
	}
}

// parseIntOrDefault reads an integer environment variable, returning
// fallback when unset or unparsable. Malformed values are not treated as
// fatal: the collector is a background daemon and should start with
// sane defaults rather than refuse to boot.
func parseIntOrDefault(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// parsePortOrDefault is parseIntOrDefault with range validation for TCP
// ports.
func parsePortOrDefault(name string, fallback int) int {
	n := parseIntOrDefault(name, fallback)
	if n <= 0 || n > 65535 {
		return fallback
	}
	return n
}

// Validate checks for the minimum configuration required to run a tick.
func (c *Config) Validate() error {
	if c.CLIProxy.URL == "" {
		return fmt.Errorf("config: CLIPROXY_URL is required")
	}
	if c.Supabase.URL == "" {
		return fmt.Errorf("config: SUPABASE_URL is required")
	}
	return nil
}
