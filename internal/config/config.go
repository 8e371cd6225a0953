package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tapin/config.toml.
type Config struct {
	APIBaseURL  string `toml:"api_base_url"`
	RealtimeURL string `toml:"realtime_url"`
	UserID      string `toml:"user_id"`
	DataDir     string `toml:"data_dir"`

	// Optional interval overrides, in seconds. Zero means default.
	HealthIntervalSec int `toml:"health_interval"`
	SyncIntervalSec   int `toml:"sync_interval"`
	OutboxIntervalSec int `toml:"outbox_interval"`
}

// DefaultPath returns ~/.tapin/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tapin", "config.toml"), nil
}

// Load reads config from the given path and fills in defaults.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults(path)
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyDefaults(path string) {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "http://localhost:3000"
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Dir(path)
	}
}

// HealthInterval returns the probe interval, defaulting to 30s.
func (c *Config) HealthInterval() time.Duration {
	return intervalOr(c.HealthIntervalSec, 30*time.Second)
}

// SyncInterval returns the background sync interval, defaulting to 30s.
func (c *Config) SyncInterval() time.Duration {
	return intervalOr(c.SyncIntervalSec, 30*time.Second)
}

// OutboxInterval returns the outbox drain interval, defaulting to 3s.
func (c *Config) OutboxInterval() time.Duration {
	return intervalOr(c.OutboxIntervalSec, 3*time.Second)
}

func intervalOr(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
