package app

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds the engine logger from config. "json" and "text" emit
// machine-oriented records with source locations; the default "pretty"
// format is a plain text handler for local development.
func NewLogger(cfg *Config) *slog.Logger {
	format := "pretty"
	if cfg != nil {
		format = cfg.LogFormat
	}
	opts := &slog.HandlerOptions{Level: logLevel(cfg)}
	switch format {
	case "json":
		opts.AddSource = true
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	case "text":
		opts.AddSource = true
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
}

func logLevel(cfg *Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(cfg.LogLevel) {
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
