package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	relay "github.com/tmaxmax/go-relay"
)

type lineWriter chan string

func (l lineWriter) Write(p []byte) (int, error) {
	l <- string(p)
	return len(p), nil
}

func TestParseConfig(t *testing.T) {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	require.NoError(t, err)
	require.Equal(t, Config{Endpoint: "ws://localhost:8000/ws", MaxRetries: -1, Reconnect: time.Second, LogLevel: slog.LevelWarn}, cfg)

	t.Setenv("RELAY_ENDPOINT", "ws://env/ws")
	fs = flag.NewFlagSet("chat", flag.ContinueOnError)
	cfg, err = ParseConfig(fs, []string{"-max-retries", "3"})
	require.NoError(t, err)
	require.Equal(t, "ws://env/ws", cfg.Endpoint)
	require.Equal(t, 3, cfg.MaxRetries)

	fs = flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	_, err = ParseConfig(fs, []string{"-endpoint", ""})
	require.Error(t, err)
}

func TestRun(t *testing.T) {
	r := relay.New()
	ts := httptest.NewServer(relay.NewServer(r))
	t.Cleanup(ts.Close)
	endpoint := "ws" + strings.TrimPrefix(ts.URL, "http")

	peer, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	defer peer.Close()
	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(lineWriter, 1)
	errs := make(chan error, 1)
	go func() {
		cfg := Config{Endpoint: endpoint, MaxRetries: 0, Reconnect: time.Millisecond}
		errs <- run(ctx, cfg, strings.NewReader("hello from the terminal\n"), out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := peer.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"return_chat","data":{"message":"hello from the terminal"}}`, string(data))

	require.NoError(t, peer.WriteMessage(websocket.TextMessage, []byte(`{"event":"room_chat","data":"hello back"}`)))

	select {
	case line := <-out:
		require.Equal(t, "hello back\n", line)
	case <-time.After(time.Second):
		t.Fatal("message was not printed")
	}

	cancel()
	require.NoError(t, <-errs)
}
