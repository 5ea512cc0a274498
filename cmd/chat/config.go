package main

import (
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmaxmax/go-relay/internal/config"
)

// Config holds chat command configuration.
type Config struct {
	Endpoint   string        `env:"RELAY_ENDPOINT"    envDefault:"ws://localhost:8000/ws"`
	MaxRetries int           `env:"RELAY_MAX_RETRIES" envDefault:"-1"`
	Reconnect  time.Duration `env:"RELAY_RECONNECT"   envDefault:"1s"`
	LogLevel   slog.Level    `env:"RELAY_LOG_LEVEL"   envDefault:"warn"`
}

// ParseConfig parses environment and flags into a Config. Flags take precedence.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "websocket endpoint of the relay")
	fs.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "reconnection attempts after the connection drops, -1 for unlimited")
	fs.DurationVar(&cfg.Reconnect, "reconnect", cfg.Reconnect, "initial delay between reconnection attempts")
	fs.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "minimum log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.Endpoint == "" {
		return Config{}, fmt.Errorf("endpoint is required")
	}

	return cfg, nil
}
