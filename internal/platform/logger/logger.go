package logger

import (
	"log/slog"
	"os"
)

// New returns the default structured logger writing JSON to stdout.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// NewWithLevel returns a structured logger with a minimum level, used by
// tests and local development to silence or raise verbosity.
func NewWithLevel(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
