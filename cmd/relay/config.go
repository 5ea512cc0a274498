package main

import (
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmaxmax/go-relay/internal/config"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr       string        `env:"RELAY_HTTP_ADDR"       envDefault:":8000"`
	SendTimeout    time.Duration `env:"RELAY_SEND_TIMEOUT"    envDefault:"250ms"`
	QueueSize      int           `env:"RELAY_QUEUE_SIZE"      envDefault:"256"`
	AllowedOrigins []string      `env:"RELAY_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	NATSURL        string        `env:"RELAY_NATS_URL"`
	NATSSubject    string        `env:"RELAY_NATS_SUBJECT"    envDefault:"relay.room"`
	LogLevel       slog.Level    `env:"RELAY_LOG_LEVEL"       envDefault:"info"`
}

// ParseConfig parses environment and flags into a Config. Flags take precedence.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.DurationVar(&cfg.SendTimeout, "send-timeout", cfg.SendTimeout, "how long a broadcast waits for slow clients")
	fs.IntVar(&cfg.QueueSize, "queue-size", cfg.QueueSize, "outbound queue capacity of each client")
	fs.Func("allowed-origins", "comma separated origins allowed to connect from browsers, * for any", func(s string) error {
		cfg.AllowedOrigins = splitList(s)
		return nil
	})
	fs.StringVar(&cfg.NATSURL, "nats-url", cfg.NATSURL, "NATS server to share the room through; empty runs standalone")
	fs.StringVar(&cfg.NATSSubject, "nats-subject", cfg.NATSSubject, "NATS subject the room is shared on")
	fs.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "minimum log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.QueueSize <= 0 {
		return Config{}, fmt.Errorf("queue size must be positive, got %d", cfg.QueueSize)
	}
	if cfg.SendTimeout <= 0 {
		return Config{}, fmt.Errorf("send timeout must be positive, got %s", cfg.SendTimeout)
	}
	if len(cfg.AllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("at least one allowed origin is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
