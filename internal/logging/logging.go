// Package logging configures the process-wide slog logger and carries the
// request correlation id into every record written with a context.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the handler and minimum level.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Format is json or text. Unknown values mean json.
	Format string

	// Output defaults to os.Stdout.
	Output io.Writer
}

// New builds a logger from cfg whose records include the correlation id of
// the context they are logged with.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}

	return slog.New(NewContextHandler(h, CorrelationIDExtractor))
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
