package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.courier/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	// ResolveTimeoutMS bounds synchronous recipient resolution.
	ResolveTimeoutMS int64 `toml:"resolve_timeout_ms"`
	// SweepFloorMS is the minimum delay before an expiration sweep fires.
	SweepFloorMS int64 `toml:"sweep_floor_ms"`
}

const (
	defaultResolveTimeout = 2 * time.Second
	defaultSweepFloor     = 50 * time.Millisecond
)

// ResolveTimeout returns the configured resolution bound, or the default
// when unset.
func (c *Config) ResolveTimeout() time.Duration {
	if c == nil || c.ResolveTimeoutMS <= 0 {
		return defaultResolveTimeout
	}
	return time.Duration(c.ResolveTimeoutMS) * time.Millisecond
}

// SweepFloor returns the configured sweep floor, or the default when unset.
func (c *Config) SweepFloor() time.Duration {
	if c == nil || c.SweepFloorMS <= 0 {
		return defaultSweepFloor
	}
	return time.Duration(c.SweepFloorMS) * time.Millisecond
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
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
