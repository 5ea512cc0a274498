// Command relay serves a single chat room: every room_chat a client sends is
// delivered as return_chat to all the other clients.
//
// Clients connect over websockets, at /ws with JSON frames or /ws/text with bare text,
// or subscribe to server-sent events at /events and post their messages there.
// When a NATS server is configured, relays sharing its subject share the room.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	relay "github.com/tmaxmax/go-relay"
	"github.com/tmaxmax/go-relay/internal/config"
	"github.com/tmaxmax/go-relay/internal/otel"
	"github.com/tmaxmax/go-relay/pkg/natsbridge"
)

const serviceName = "relay"

func main() {
	cfg, err := ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("relay: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		config.Exitf("relay: %v", err)
	}
}

func run(ctx context.Context, cfg Config) error {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)

	shutdownTracing, err := otel.Setup(ctx, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	options := []relay.Option{
		relay.WithLogger(logger),
		relay.WithSendTimeout(cfg.SendTimeout),
	}

	var bridge *natsbridge.Bridge
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("go-relay"), nats.NoEcho(), nats.MaxReconnects(-1))
		if err != nil {
			return err
		}
		defer nc.Close()

		bridge = natsbridge.New(nc, cfg.NATSSubject, natsbridge.WithLogger(logger))
		options = append(options, relay.WithUpstream(bridge))
	}

	r := relay.New(options...)

	if bridge != nil {
		if err := bridge.Forward(r); err != nil {
			return err
		}
		defer func() { _ = bridge.Close() }()

		logger.Info("sharing room", "nats", cfg.NATSURL, "subject", cfg.NATSSubject, "node", bridge.Node())
	}

	s := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           withLogger(logger)(newMux(r, cfg, logger)),
		ReadHeaderTimeout: time.Second * 10,
		ErrorLog:          slog.NewLogLogger(handler, slog.LevelWarn),
	}

	logger.Info("relay listening", "addr", cfg.HTTPAddr)

	return runServer(ctx, s, r)
}

func newMux(r *relay.Relay, cfg Config, logger *slog.Logger) *http.ServeMux {
	wsOptions := []relay.ServerOption{
		relay.WithServerLogger(logger),
		relay.WithQueueSize(cfg.QueueSize),
		relay.WithCheckOrigin(relay.AllowOrigins(cfg.AllowedOrigins...)),
	}
	sseHandler := cors(cfg.AllowedOrigins, &relay.SSEServer{
		Relay:     r,
		Logger:    logger,
		QueueSize: cfg.QueueSize,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /ws", relay.NewServer(r, wsOptions...))
	mux.Handle("GET /ws/text", relay.NewServer(r, append(wsOptions, relay.WithCodec(relay.TextCodec{}))...))
	mux.Handle("GET /events", sseHandler)
	mux.Handle("POST /events", sseHandler)
	mux.Handle("GET /stats", relay.StatsHandler(r))
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

func cors(origins []string, h http.Handler) http.Handler {
	allowed := relay.AllowOrigins(origins...)
	wildcard := false
	for _, o := range origins {
		wildcard = wildcard || o == "*"
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed(r) {
			if wildcard {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}
		h.ServeHTTP(w, r)
	})
}

// runServer serves until ctx is done, then closes the relay's connections before
// shutting the HTTP server down: websocket connections are hijacked, so the server
// doesn't wait for them itself.
func runServer(ctx context.Context, s *http.Server, r *relay.Relay) error {
	shutdownError := make(chan error)

	go func() {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		// Misbehaving connections may hang for an unknown timespan, so we stop waiting after a while.
		relayErr := r.Shutdown(sctx)
		shutdownError <- errors.Join(relayErr, s.Shutdown(sctx))
	}()

	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-shutdownError
}

// withLogger is a net/http middleware that logs each request with its client's attributes.
func withLogger(logger *slog.Logger) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"ua", r.UserAgent(),
				"remote", r.RemoteAddr,
				"origin", r.Header.Get("Origin"),
			)
			h.ServeHTTP(w, r)
		})
	}
}
