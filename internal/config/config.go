package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the logger's runtime settings. Values come from defaults,
// then an optional TOML file, then command-line flags, in that order.
type Config struct {
	DBPath          string `toml:"db_path"`
	IntervalSeconds int    `toml:"interval_seconds"`
	TopProcs        int    `toml:"top_procs"`
	PowerSupply     string `toml:"power_supply"` // "auto", "none", or a power-supply directory name
	Verbose         bool   `toml:"verbose"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		DBPath:          "telemetry.db",
		IntervalSeconds: 5,
		TopProcs:        10,
		PowerSupply:     "auto",
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the sampling loop cannot honor. It runs before
// any collector is touched.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	// The store keys samples by epoch second, so sub-second intervals
	// cannot produce unique timestamps.
	if c.IntervalSeconds < 1 {
		return fmt.Errorf("interval must be >= 1 second, got %d", c.IntervalSeconds)
	}
	if c.TopProcs < 0 {
		return fmt.Errorf("top-procs must be >= 0, got %d", c.TopProcs)
	}
	if c.PowerSupply == "" {
		return fmt.Errorf("power-supply must be 'auto', 'none', or a power-supply name")
	}
	return nil
}
