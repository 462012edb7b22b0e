// Package logging builds the client's slog logger from configuration:
// console and rotated file sinks, with an extra errors-only file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syntrixbase/syntrix-go/internal/config"
)

var (
	openFiles   []*lumberjack.Logger
	openFilesMu sync.Mutex
)

// Initialize builds a logger from cfg and installs it as the process-wide
// default.
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("logging initialized",
		"level", cfg.Level,
		"console", cfg.Console.Enabled,
		"file", cfg.File.Enabled,
	)
	return nil
}

// NewLogger builds a logger from cfg without touching the global default.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var sinks []slog.Handler

	if cfg.Console.Enabled {
		sinks = append(sinks, createHandler(os.Stdout, cfg.Console.Format, parseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		mainFile := rotatedFile(cfg, "syntrixgo.log")
		sinks = append(sinks, createHandler(mainFile, cfg.File.Format, parseLevel(cfg.File.Level)))

		// Warnings and errors also go to a dedicated file, so problems
		// survive rotation of the main log.
		errorFile := rotatedFile(cfg, "errors.log")
		errorHandler := createHandler(errorFile, cfg.File.Format, slog.LevelWarn)
		sinks = append(sinks, WithMinLevel(errorHandler, slog.LevelWarn))
	}

	return slog.New(NewFanout(sinks...)), nil
}

// Shutdown closes every log file opened by NewLogger.
func Shutdown() error {
	openFilesMu.Lock()
	defer openFilesMu.Unlock()

	for _, f := range openFiles {
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
	}
	openFiles = nil
	return nil
}

func rotatedFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}
	openFilesMu.Lock()
	openFiles = append(openFiles, f)
	openFilesMu.Unlock()
	return f
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
