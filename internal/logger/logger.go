// Package logger provides structured logging for the kestrel IMAP engine.
// It wraps log/slog behind package-level functions so the rest of the code
// does not carry a logger handle around.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

var globalLogger = slog.Default()

// Config selects the output level and format.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// Initialize sets up the global logger. Safe to call once at startup;
// before that, logging falls through to slog's default handler.
func Initialize(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		handler = slog.NewTextHandler(os.Stdout, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	globalLogger = slog.New(handler)
	return nil
}

// SetOutput redirects logging to w with the text handler. Used by tests to
// capture or silence output.
func SetOutput(w io.Writer) {
	globalLogger = slog.New(slog.NewTextHandler(w, nil))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func Debug(msg string, args ...any) { globalLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { globalLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { globalLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { globalLogger.Error(msg, args...) }
