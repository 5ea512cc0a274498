package main

import (
	"flag"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseConfig_defaults(t *testing.T) {
	cfg, err := ParseConfig(newFlagSet(), nil)
	require.NoError(t, err)

	require.Equal(t, Config{
		HTTPAddr:       ":8000",
		SendTimeout:    250 * time.Millisecond,
		QueueSize:      256,
		AllowedOrigins: []string{"*"},
		NATSSubject:    "relay.room",
		LogLevel:       slog.LevelInfo,
	}, cfg)
}

func TestParseConfig_overrides(t *testing.T) {
	t.Setenv("RELAY_HTTP_ADDR", "env-addr")
	t.Setenv("RELAY_QUEUE_SIZE", "8")
	t.Setenv("RELAY_NATS_URL", "nats://env:4222")
	t.Setenv("RELAY_LOG_LEVEL", "debug")

	cfg, err := ParseConfig(newFlagSet(), []string{
		"-http-addr", "flag-addr",
		"-send-timeout", "1s",
		"-allowed-origins", "https://a.example, https://b.example",
		"-log-level", "warn",
	})
	require.NoError(t, err)

	require.Equal(t, "flag-addr", cfg.HTTPAddr, "flags must override the environment")
	require.Equal(t, time.Second, cfg.SendTimeout)
	require.Equal(t, 8, cfg.QueueSize)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, "nats://env:4222", cfg.NATSURL)
	require.Equal(t, slog.LevelWarn, cfg.LogLevel)
}

func TestParseConfig_invalid(t *testing.T) {
	for name, args := range map[string][]string{
		"queue size":   {"-queue-size", "0"},
		"send timeout": {"-send-timeout", "-1s"},
		"origins":      {"-allowed-origins", " , "},
		"log level":    {"-log-level", "loud"},
		"unknown flag": {"-nope"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig(newFlagSet(), args)
			require.Error(t, err)
		})
	}

	t.Run("env", func(t *testing.T) {
		t.Setenv("RELAY_SEND_TIMEOUT", "soon")

		_, err := ParseConfig(newFlagSet(), nil)
		require.ErrorContains(t, err, "parse env:")
	})
}
