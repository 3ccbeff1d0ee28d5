// Package config loads offsync configuration from defaults, an optional
// YAML file and OFFSYNC_* environment variables, in that precedence order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the daemon configuration.
type Config struct {
	DataDir string `koanf:"data_dir"`

	Remote struct {
		BaseURL  string        `koanf:"base_url"`
		Resource string        `koanf:"resource"`
		Timeout  time.Duration `koanf:"timeout"`
	} `koanf:"remote"`

	Probe struct {
		URL      string        `koanf:"url"`
		Interval time.Duration `koanf:"interval"`
	} `koanf:"probe"`

	Drain struct {
		Interval   time.Duration `koanf:"interval"`
		Timeout    time.Duration `koanf:"timeout"`
		BackoffMin time.Duration `koanf:"backoff_min"`
		BackoffMax time.Duration `koanf:"backoff_max"`
	} `koanf:"drain"`

	Log struct {
		Level      string `koanf:"level"`
		File       string `koanf:"file"`
		MaxSizeMB  int    `koanf:"max_size_mb"`
		MaxBackups int    `koanf:"max_backups"`
	} `koanf:"log"`
}

// defaults mirror a small single-user deployment.
var defaults = map[string]interface{}{
	"data_dir":          "./data",
	"remote.resource":   "tasks",
	"remote.timeout":    "10s",
	"probe.interval":    "30s",
	"drain.interval":    "1m",
	"drain.timeout":     "5m",
	"drain.backoff_min": "1s",
	"drain.backoff_max": "60s",
	"log.level":         "info",
	"log.max_size_mb":   20,
	"log.max_backups":   3,
}

// Load reads configuration. path may be empty or point to a YAML file; a
// missing explicit file is an error, but the default path is optional.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	// OFFSYNC_REMOTE__BASE_URL -> remote.base_url
	err := k.Load(env.Provider("OFFSYNC_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "OFFSYNC_")
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Probe.URL == "" {
		// Probing the collection endpoint is a reasonable default.
		c.Probe.URL = strings.TrimRight(c.Remote.BaseURL, "/") + "/" + c.Remote.Resource
	}
	if c.Drain.BackoffMax < c.Drain.BackoffMin {
		return fmt.Errorf("drain.backoff_max must be >= drain.backoff_min")
	}
	return nil
}
