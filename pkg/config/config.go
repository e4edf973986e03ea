package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configFileName = "config.yaml"

	DefaultListenAddr      = "127.0.0.1:3000"
	DefaultFreshnessWindow = 5 * time.Minute
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

type Config struct {
	Listen    string `yaml:"listen,omitempty"`
	Store     string `yaml:"store,omitempty"`
	RedisAddr string `yaml:"redisAddr,omitempty"`

	// FreshnessWindow bounds request timestamp drift. Explicit zero
	// disables the check (smoke-test rigs use fixed timestamps).
	FreshnessWindow *time.Duration `yaml:"freshnessWindow,omitempty"`

	RequireSignedLookups bool `yaml:"requireSignedLookups,omitempty"`

	AdminToken               string `yaml:"adminToken,omitempty"`
	AllowUnauthenticatedWipe bool   `yaml:"allowUnauthenticatedWipe,omitempty"`
}

// Load reads config.yaml from the lighthouse dir, returning defaults if
// the file does not exist.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	raw, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListenAddr
	}
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.FreshnessWindow == nil {
		window := DefaultFreshnessWindow
		c.FreshnessWindow = &window
	}
}

func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	switch c.Store {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redisAddr is required when store is redis")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}

	if *c.FreshnessWindow < 0 {
		return errors.New("freshnessWindow must be >= 0")
	}

	return nil
}

// Save writes the config back to the lighthouse dir.
func Save(dir string, cfg *Config) error {
	encoded, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	path := filepath.Join(dir, configFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	return nil
}
