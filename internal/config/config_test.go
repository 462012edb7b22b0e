package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "ws://localhost:8080", cfg.Client.BaseURL)
	assert.Empty(t, cfg.Client.Token)
	assert.False(t, cfg.Client.Persistence.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Console.Enabled)
	assert.False(t, cfg.Logging.File.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
client:
  base_url: wss://db.example.com
  token: abc123
  persistence:
    enabled: true
    path: data/cache.db
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://db.example.com", cfg.Client.BaseURL)
	assert.Equal(t, "abc123", cfg.Client.Token)
	assert.True(t, cfg.Client.Persistence.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Relative paths resolve against the config file's directory.
	wantPath := filepath.Join(filepath.Dir(path), "data", "cache.db")
	assert.Equal(t, wantPath, cfg.Client.Persistence.Path)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080", cfg.Client.BaseURL)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "client: [not a mapping")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
client:
  base_url: wss://file.example.com
`)
	t.Setenv("SYNTRIX_BASE_URL", "wss://env.example.com")
	t.Setenv("SYNTRIX_TOKEN", "env-token")
	t.Setenv("SYNTRIX_PERSISTENCE", "true")
	t.Setenv("SYNTRIX_CACHE_PATH", "/var/cache/syntrix.db")
	t.Setenv("SYNTRIX_LOG_LEVEL", "warn")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://env.example.com", cfg.Client.BaseURL)
	assert.Equal(t, "env-token", cfg.Client.Token)
	assert.True(t, cfg.Client.Persistence.Enabled)
	assert.Equal(t, "/var/cache/syntrix.db", cfg.Client.Persistence.Path)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_BadPersistenceEnvIgnored(t *testing.T) {
	t.Setenv("SYNTRIX_PERSISTENCE", "maybe")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.False(t, cfg.Client.Persistence.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.Client.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name: "persistence without path",
			mutate: func(c *Config) {
				c.Client.Persistence.Enabled = true
				c.Client.Persistence.Path = ""
			},
			wantErr: "persistence path",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name:    "bad console level",
			mutate:  func(c *Config) { c.Logging.Console.Level = "loud" },
			wantErr: "invalid console log level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingConfig_ApplyDefaults(t *testing.T) {
	cfg := LoggingConfig{Level: "debug"}
	cfg.ApplyDefaults()

	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 50, cfg.Rotation.MaxSize)
	assert.Equal(t, 5, cfg.Rotation.MaxBackups)
	assert.Equal(t, 14, cfg.Rotation.MaxAge)
	// Per-output levels inherit the top-level setting.
	assert.True(t, cfg.Console.Enabled)
	assert.Equal(t, "debug", cfg.Console.Level)
	assert.Equal(t, "debug", cfg.File.Level)
}
