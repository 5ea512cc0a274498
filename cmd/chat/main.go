// Command chat is a terminal client for a relay. Every line read from standard input
// is sent to the room, and every message from the other clients is printed to standard output.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tmaxmax/go-relay/client"
	"github.com/tmaxmax/go-relay/internal/config"
)

func main() {
	cfg, err := ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("chat: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if err := run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		config.Exitf("chat: %v", err)
	}
}

// run chats until ctx is done or the connection fails for good. Input ending doesn't stop it,
// so piped clients keep printing what the others send.
func run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, logger *slog.Logger) error {
	c := &client.Client{
		MaxRetries:       cfg.MaxRetries,
		ReconnectionTime: cfg.Reconnect,
		Logger:           logger,
		OnRetry: func(err error, next time.Duration) {
			logger.Warn("connection lost, reconnecting", "err", err, "in", next)
		},
	}

	conn := c.NewConnection(ctx, cfg.Endpoint)
	w := &concurrentWriter{w: out}

	conn.OnChat(func(message string) {
		if _, err := w.WriteLine(message); err != nil {
			logger.Error("print failed", "err", err)
		}
	})

	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			err := conn.SendChat(sc.Text())
			if errors.Is(err, client.ErrConnectionClosed) {
				return
			}
			if err != nil {
				logger.Warn("message not sent", "err", err)
			}
		}
		if err := sc.Err(); err != nil {
			logger.Error("read input failed", "err", err)
		}
	}()

	return conn.Connect()
}

// concurrentWriter writes whole lines, so output from different goroutines never interleaves.
type concurrentWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (m *concurrentWriter) WriteLine(s string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return io.WriteString(m.w, s+"\n")
}
