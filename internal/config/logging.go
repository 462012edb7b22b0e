package config

import (
	"fmt"
	"path/filepath"
)

// LoggingConfig controls the client's slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format   string         `yaml:"format"`
	Dir      string         `yaml:"dir"`
	Rotation RotationConfig `yaml:"rotation"`
	Console  ConsoleConfig  `yaml:"console"`
	File     FileConfig     `yaml:"file"`
}

// RotationConfig bounds the on-disk log files.
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // megabytes per file
	MaxBackups int  `yaml:"max_backups"` // rotated files kept
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`
}

// ConsoleConfig is the stdout sink. Level and Format override the top-level
// settings when non-empty.
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// FileConfig is the rotated-file sink, off by default.
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
}

// DefaultLoggingConfig logs text to the console at info level.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		},
		Console: ConsoleConfig{Enabled: true, Level: "info", Format: "text"},
		File:    FileConfig{Enabled: false, Level: "info", Format: "json"},
	}
}

// ApplyDefaults fills empty fields; per-sink level and format inherit the
// top-level values.
func (c *LoggingConfig) ApplyDefaults() {
	fallback(&c.Level, "info")
	fallback(&c.Format, "text")
	fallback(&c.Dir, "logs")

	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = 50
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = 5
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = 14
	}

	// An entirely unset console block means "log to the console".
	if !c.Console.Enabled && c.Console.Level == "" && c.Console.Format == "" {
		c.Console.Enabled = true
	}
	fallback(&c.Console.Level, c.Level)
	fallback(&c.Console.Format, c.Format)
	fallback(&c.File.Level, c.Level)
	fallback(&c.File.Format, c.Format)
}

func fallback(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// ResolvePaths resolves a relative log directory against the directory the
// config file was loaded from.
func (c *LoggingConfig) ResolvePaths(configDir string) {
	if c.Dir != "" && !filepath.IsAbs(c.Dir) {
		c.Dir = filepath.Clean(filepath.Join(configDir, c.Dir))
	}
}

// Validate checks levels, formats, and the file sink's directory.
func (c *LoggingConfig) Validate() error {
	if !validLogLevel(c.Level) {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Level)
	}
	if !validLogFormat(c.Format) {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Format)
	}

	if c.Console.Enabled {
		if c.Console.Level != "" && !validLogLevel(c.Console.Level) {
			return fmt.Errorf("invalid console log level: %s", c.Console.Level)
		}
		if c.Console.Format != "" && !validLogFormat(c.Console.Format) {
			return fmt.Errorf("invalid console log format: %s", c.Console.Format)
		}
	}

	if c.File.Enabled {
		if c.Dir == "" {
			return fmt.Errorf("log directory cannot be empty when file logging is enabled")
		}
		if c.File.Level != "" && !validLogLevel(c.File.Level) {
			return fmt.Errorf("invalid file log level: %s", c.File.Level)
		}
		if c.File.Format != "" && !validLogFormat(c.File.Format) {
			return fmt.Errorf("invalid file log format: %s", c.File.Format)
		}
	}
	return nil
}

func validLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validLogFormat(format string) bool {
	return format == "text" || format == "json"
}
