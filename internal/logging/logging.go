// Package logging configures structured logging for the fdshare binaries.
//
// Output is JSON on stderr: the helper's stdout carries the PID greeting the
// factory parses, and the CLI's stdout carries file contents, so diagnostics
// must stay off both.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup creates a JSON logger at the given level and installs it as the
// slog default. Level accepts "debug", "info", "warn" and "error"
// (case-insensitive); anything else means "info".
func Setup(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent returns a logger tagging every record with a component name.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}
