// Copyright 2026 MatchKeep Contributors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the engine's tunables from a TOML file, falling back
// to shipped defaults when no file exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Sync      SyncConfig      `toml:"sync"`
	Retention RetentionConfig `toml:"retention"`
}

// ServerConfig locates the remote API.
type ServerConfig struct {
	BaseURL string `toml:"base_url"`
}

// SyncConfig tunes the push path.
type SyncConfig struct {
	BackoffMin    string `toml:"backoff_min"`    // e.g. "1s"
	BackoffMax    string `toml:"backoff_max"`    // e.g. "60s"
	MaxAttempts   int    `toml:"max_attempts"`   // transient failures before quarantine
	FlushInterval string `toml:"flush_interval"` // periodic flush cadence
}

// RetentionConfig tunes the pull path.
type RetentionConfig struct {
	WindowDays   int    `toml:"window_days"`   // temporal data retention
	PageLimit    int    `toml:"page_limit"`    // list endpoint page size
	PageInterval string `toml:"page_interval"` // delay between background pages
}

// DefaultConfig returns the shipped defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "https://api.matchkeep.app/v1",
		},
		Sync: SyncConfig{
			BackoffMin:    "1s",
			BackoffMax:    "60s",
			MaxAttempts:   8,
			FlushInterval: "30s",
		},
		Retention: RetentionConfig{
			WindowDays:   30,
			PageLimit:    50,
			PageInterval: "500ms",
		},
	}
}

// Load reads the config file at path, returning defaults when it does not
// exist yet.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the config file, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Duration parsing helpers: malformed values fall back rather than failing
// startup over a typo in a tuning knob.

// BackoffMinDuration returns sync.backoff_min as a duration.
func (c *Config) BackoffMinDuration() time.Duration {
	return parseDuration(c.Sync.BackoffMin, 1*time.Second)
}

// BackoffMaxDuration returns sync.backoff_max as a duration.
func (c *Config) BackoffMaxDuration() time.Duration {
	return parseDuration(c.Sync.BackoffMax, 60*time.Second)
}

// FlushIntervalDuration returns sync.flush_interval as a duration.
func (c *Config) FlushIntervalDuration() time.Duration {
	return parseDuration(c.Sync.FlushInterval, 30*time.Second)
}

// RetentionWindow returns retention.window_days as a duration.
func (c *Config) RetentionWindow() time.Duration {
	days := c.Retention.WindowDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// PageIntervalDuration returns retention.page_interval as a duration.
func (c *Config) PageIntervalDuration() time.Duration {
	return parseDuration(c.Retention.PageInterval, 500*time.Millisecond)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
