// Package config loads daemon configuration from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the syncd daemon configuration.
type Config struct {
	DataDir string `yaml:"data_dir"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Remote struct {
		BaseURL        string `yaml:"base_url"`
		AuthToken      string `yaml:"auth_token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"remote"`

	Sync struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		DebounceMillis  int `yaml:"debounce_millis"`
	} `yaml:"sync"`

	Connectivity struct {
		ProbeURL        string `yaml:"probe_url"`
		IntervalSeconds int    `yaml:"interval_seconds"`
	} `yaml:"connectivity"`

	Listen struct {
		Addr string `yaml:"addr"`
	} `yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.DataDir = defaultDataDir()
	cfg.Log.Level = "INFO"
	cfg.Remote.TimeoutSeconds = 30
	cfg.Sync.IntervalSeconds = 900
	cfg.Sync.DebounceMillis = 2000
	cfg.Connectivity.IntervalSeconds = 30
	cfg.Listen.Addr = "localhost:8790"
	return cfg
}

// Load reads the YAML file at path over the defaults. A missing path
// returns the defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	return nil
}

// SyncInterval returns the periodic sync interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// SyncDebounce returns the change-trigger quiet period.
func (c *Config) SyncDebounce() time.Duration {
	return time.Duration(c.Sync.DebounceMillis) * time.Millisecond
}

// RemoteTimeout returns the per-push transport timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}

// ProbeInterval returns the connectivity polling interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Connectivity.IntervalSeconds) * time.Second
}

// ProbeURL returns the connectivity probe target, defaulting to the
// remote health endpoint.
func (c *Config) ProbeURL() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	return c.Remote.BaseURL + "/v1/health"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".planmesh"
	}
	return filepath.Join(home, ".planmesh")
}
