// Package config loads and validates client configuration from YAML files
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the full client configuration
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig configures the connection and the local cache.
type ClientConfig struct {
	// BaseURL is the backend endpoint, e.g. "wss://db.example.com".
	BaseURL string `yaml:"base_url"`
	// Token is a static bearer token; empty means anonymous.
	Token       string            `yaml:"token"`
	Persistence PersistenceConfig `yaml:"persistence"`
}

// PersistenceConfig selects between the in-memory cache and the durable
// on-disk cache.
type PersistenceConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the cache database file. Relative paths resolve against the
	// config file's directory.
	Path string `yaml:"path"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			BaseURL: "ws://localhost:8080",
			Persistence: PersistenceConfig{
				Enabled: false,
				Path:    "cache.db",
			},
		},
		Logging: DefaultLoggingConfig(),
	}
}

// LoadConfig loads configuration from path.
// Order: defaults -> file -> ApplyEnvOverrides -> ResolvePaths -> Validate.
// A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Logging.ApplyDefaults()

	configDir := "."
	if path != "" {
		configDir = filepath.Dir(path)
	}
	cfg.ResolvePaths(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SYNTRIX_BASE_URL"); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv("SYNTRIX_TOKEN"); v != "" {
		c.Client.Token = v
	}
	if v := os.Getenv("SYNTRIX_PERSISTENCE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Client.Persistence.Enabled = enabled
		}
	}
	if v := os.Getenv("SYNTRIX_CACHE_PATH"); v != "" {
		c.Client.Persistence.Path = v
	}
	if v := os.Getenv("SYNTRIX_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ResolvePaths resolves relative paths against the config directory.
func (c *Config) ResolvePaths(configDir string) {
	if c.Client.Persistence.Path != "" && !filepath.IsAbs(c.Client.Persistence.Path) {
		c.Client.Persistence.Path = filepath.Clean(filepath.Join(configDir, c.Client.Persistence.Path))
	}
	c.Logging.ResolvePaths(configDir)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client.BaseURL == "" {
		return fmt.Errorf("client base_url cannot be empty")
	}
	if c.Client.Persistence.Enabled && c.Client.Persistence.Path == "" {
		return fmt.Errorf("persistence path cannot be empty when persistence is enabled")
	}
	return c.Logging.Validate()
}
