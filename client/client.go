package client

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// DefaultQueueSize is the outbound queue capacity of connections created by clients that don't set one.
const DefaultQueueSize = 64

// The Client struct is used to initialize new connections to relays.
// It is safe for concurrent use.
//
// After connections are created, the Connect method must be called to start
// exchanging events.
type Client struct {
	// The websocket dialer to be used. Defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// Headers sent with every handshake request, for example Origin or Authorization.
	Header http.Header
	// A callback that's executed whenever a reconnection attempt starts.
	OnRetry backoff.Notify
	// The maximum number of reconnections to attempt when the connection drops or can't be established.
	// If MaxRetries is negative (-1), infinite reconnection attempts will be done.
	// Zero means no reconnections.
	//
	// This counter is reset when a reconnection attempt is successful.
	MaxRetries int
	// The initial reconnection delay. Subsequent reconnections use a longer time.
	// Defaults to 5 seconds.
	ReconnectionTime time.Duration
	// The capacity of the queue messages wait in while the connection is being established.
	// Defaults to DefaultQueueSize.
	QueueSize int
	// The logger connection events are reported to. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewConnection initializes and configures a connection to the relay at the given
// websocket endpoint, for example ws://localhost:8000/ws. Use the context to stop the connection.
func (c *Client) NewConnection(ctx context.Context, endpoint string) *Connection {
	if ctx == nil {
		panic("go-relay.client.NewConnection: context cannot be nil")
	}
	if endpoint == "" {
		panic("go-relay.client.NewConnection: endpoint cannot be empty")
	}

	cfg := *c // we clone the client so the config cannot be modified from outside
	mergeDefaults(&cfg)

	return &Connection{
		client:   cfg,
		ctx:      ctx,
		endpoint: endpoint,
		header:   cfg.Header.Clone(),
		outbound: make(chan []byte, cfg.QueueSize),
		done:     make(chan struct{}),
		logger:   cfg.Logger.With("endpoint", endpoint),
	}
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	base := backoff.NewExponentialBackOff()
	base.InitialInterval = c.ReconnectionTime
	// Retries are bounded by MaxRetries only.
	base.MaxElapsedTime = 0
	base.Reset()

	var b backoff.BackOff = base
	if c.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(c.MaxRetries))
	}
	return backoff.WithContext(b, ctx)
}

// DefaultClient is the client that is used when creating a new connection using the NewConnection function.
// Unset properties on new clients are replaced with the ones set for the default client.
var DefaultClient = &Client{
	Dialer:           websocket.DefaultDialer,
	MaxRetries:       -1,
	ReconnectionTime: time.Second * 5,
	QueueSize:        DefaultQueueSize,
}

// NewConnection creates a connection using the default client.
func NewConnection(ctx context.Context, endpoint string) *Connection {
	return DefaultClient.NewConnection(ctx, endpoint)
}

func mergeDefaults(c *Client) {
	if c.Dialer == nil {
		c.Dialer = DefaultClient.Dialer
	}
	if c.ReconnectionTime <= 0 {
		c.ReconnectionTime = DefaultClient.ReconnectionTime
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultClient.QueueSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = DefaultClient.Logger
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
