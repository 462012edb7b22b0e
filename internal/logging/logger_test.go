package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/syntrix-go/internal/config"
)

func fileLoggingConfig(t *testing.T) config.LoggingConfig {
	t.Helper()
	cfg := config.DefaultLoggingConfig()
	cfg.Console.Enabled = false
	cfg.File.Enabled = true
	cfg.Dir = t.TempDir()
	t.Cleanup(func() { Shutdown() })
	return cfg
}

func TestNewLogger_WritesMainLogFile(t *testing.T) {
	cfg := fileLoggingConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("cache opened", "path", "cache.db")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "syntrixgo.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "cache opened")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := fileLoggingConfig(t)
	cfg.File.Format = "json"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("stream opened", "target", 2)

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "syntrixgo.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"stream opened"`)
	assert.Contains(t, string(content), `"target":2`)
}

func TestNewLogger_ErrorLogSeparation(t *testing.T) {
	cfg := fileLoggingConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("listen started")
	logger.Warn("stream reconnecting")
	logger.Error("stream failed")
	require.NoError(t, Shutdown())

	main, err := os.ReadFile(filepath.Join(cfg.Dir, "syntrixgo.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "listen started")
	assert.Contains(t, string(main), "stream failed")

	// The errors file holds warn and above only.
	errlog, err := os.ReadFile(filepath.Join(cfg.Dir, "errors.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errlog), "listen started")
	assert.Contains(t, string(errlog), "stream reconnecting")
	assert.Contains(t, string(errlog), "stream failed")
}

func TestInitialize_SetsDefaultLogger(t *testing.T) {
	cfg := fileLoggingConfig(t)

	require.NoError(t, Initialize(cfg))
	slog.Info("default logger message")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "syntrixgo.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "default logger message")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}
