// Package log holds the process-wide structured logger.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup installs the process logger on first call; later calls are ignored.
// level is debug, info, warn or error (case-insensitive, default info).
// format is "text" or anything else for JSON.
func Setup(level, format string) {
	once.Do(func() {
		logger = build(os.Stdout, level, format)
		slog.SetDefault(logger)
	})
}

func build(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Get returns the process logger, installing an info/JSON one if Setup has
// not run.
func Get() *slog.Logger {
	Setup("info", "json")
	return logger
}

func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

func WithTransport(name string) *slog.Logger {
	return Get().With(slog.String("transport", name))
}
