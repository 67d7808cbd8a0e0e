// Package util holds the small shared pieces the rest of the module leans
// on: structured logging, retry and backoff helpers, rate limiting, and the
// exchange trading calendar.
package util

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog logger writing structured records to stdout.
// Level is one of "debug", "info", "warn", "error", defaulting to info;
// format selects "json" (the default) or "text".
func NewLogger(level, format string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lv}
	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// SetDefault installs logger as the process-wide slog default.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}
