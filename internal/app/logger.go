package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "kitledger"

// NewLogger builds the process logger. Every record carries the service,
// component and environment so API and worker output can share one sink.
func NewLogger(cfg *Config, component string) *slog.Logger {
	return newLogger(os.Stdout, cfg, component)
}

func newLogger(w io.Writer, cfg *Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	env, format := "development", ""
	if cfg != nil {
		env, format = cfg.AppEnv, cfg.LogFormat
		if level, err := parseLevel(cfg.LogLevel); err == nil {
			opts.Level = level
		}
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("component", component),
		slog.String("env", env),
	)
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if strings.TrimSpace(raw) == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: %w", raw, err)
	}
	return level, nil
}
