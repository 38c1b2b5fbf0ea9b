package logging

import (
	"io"
	"log/slog"
	"os"
)

// New creates a structured text logger for the given app name.
// Level is one of "debug", "info", "warn", "error" (default: "info").
// Log lines go to stderr so the connection string on stdout stays clean.
func New(app, level string) *slog.Logger {
	return NewWithWriter(os.Stderr, app, level)
}

// NewWithWriter is New with an explicit destination (for tests).
func NewWithWriter(w io.Writer, app, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler).With(
		slog.String("app", app),
		slog.Int("pid", os.Getpid()),
	)
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
