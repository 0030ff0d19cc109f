// Package config loads viewer settings from defaults, an optional YAML file
// and CHUNKVIEW_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHUNKVIEW_"

// Config holds every tunable of the viewer.
type Config struct {
	Document       string        `koanf:"document"`
	Chunks         string        `koanf:"chunks"`
	FrameInterval  time.Duration `koanf:"frame_interval"`
	SettleDelay    time.Duration `koanf:"settle_delay"`
	ScrollDuration time.Duration `koanf:"scroll_duration"`
	ReducedMotion  bool          `koanf:"reduced_motion"`
	Workers        int           `koanf:"workers"`
	// CellAspect is a terminal cell's height divided by its width.
	CellAspect  float64       `koanf:"cell_aspect"`
	PageGap     int           `koanf:"page_gap"`
	CacheDir    string        `koanf:"cache_dir"`
	CacheTTL    time.Duration `koanf:"cache_ttl"`
	HTTPTimeout time.Duration `koanf:"http_timeout"`
	Serve       string        `koanf:"serve"`
	LogFile     string        `koanf:"log_file"`
	AltScreen   bool          `koanf:"alt_screen"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		FrameInterval:  16 * time.Millisecond,
		SettleDelay:    50 * time.Millisecond,
		ScrollDuration: 200 * time.Millisecond,
		Workers:        4,
		CellAspect:     2.0,
		PageGap:        1,
		CacheTTL:       24 * time.Hour,
		HTTPTimeout:    90 * time.Second,
		AltScreen:      true,
	}
}

// Load applies the YAML file at path (skipped when empty or missing) and the
// environment on top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	// CHUNKVIEW_SETTLE_DELAY -> settle_delay
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the viewer cannot run with.
func (c *Config) Validate() error {
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must be non-negative")
	}
	if c.ScrollDuration < 0 {
		return fmt.Errorf("scroll_duration must be non-negative")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.CellAspect <= 0 {
		return fmt.Errorf("cell_aspect must be positive")
	}
	if c.PageGap < 0 {
		return fmt.Errorf("page_gap must be non-negative")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive")
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive")
	}
	return nil
}
