package logger

import (
	"io"
	"log/slog"
	"strings"
)

type Config struct {
	Level  slog.Level
	Format string // "json" or "text"
}

// ParseConfig reads level and format names as they appear in configuration.
// Unknown levels fall back to info.
func ParseConfig(level, format string) Config {
	cfg := Config{Level: slog.LevelInfo, Format: strings.ToLower(format)}
	_ = cfg.Level.UnmarshalText([]byte(level))
	return cfg
}

// New builds a logger writing to w and installs it as the default.
func New(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}
