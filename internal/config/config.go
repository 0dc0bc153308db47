// Package config holds process-level configuration read from the
// environment. Loading configuration from files is explicitly out of
// scope (spec.md §1); this package only covers the handful of knobs the
// process itself needs to start.
//
// Grounded on aluiziolira-go-scrape-books/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the process-level configuration for the crawlhub server.
type Config struct {
	ListenAddr       string
	DataDir          string
	DefaultHitRate   float64
	Development      bool
}

// DefaultConfig returns the out-of-the-box configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:     ":3600",
		DataDir:        "data",
		DefaultHitRate: 100.0,
		Development:    false,
	}
}

// FromEnv overlays environment variables onto DefaultConfig.
func FromEnv() (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("CRAWLHUB_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CRAWLHUB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CRAWLHUB_DEFAULT_HIT_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse CRAWLHUB_DEFAULT_HIT_RATE: %w", err)
		}
		cfg.DefaultHitRate = f
	}
	if v := os.Getenv("CRAWLHUB_DEV"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse CRAWLHUB_DEV: %w", err)
		}
		cfg.Development = b
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is internally coherent.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}
	if c.DefaultHitRate < 0.1 || c.DefaultHitRate > 1000.0 {
		return fmt.Errorf("default hit rate %.2f out of range [0.1, 1000]", c.DefaultHitRate)
	}
	return nil
}
