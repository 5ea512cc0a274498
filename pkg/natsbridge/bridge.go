// Package natsbridge connects relays running in different processes through a NATS subject,
// so that clients connected to any of them share the same room.
//
// Each relay publishes the messages of its own connections through a Bridge, which is its
// relay.Upstream, and receives the messages of the other relays by calling Forward.
package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	relay "github.com/tmaxmax/go-relay"
)

// DefaultSubject is the subject messages are exchanged on when none is configured.
const DefaultSubject = "relay.room"

// ErrForwarding is returned when Forward is called on a bridge that already forwards messages.
var ErrForwarding = errors.New("go-relay.natsbridge: bridge is already forwarding")

// Envelope is the form messages travel in between relays.
type Envelope struct {
	// The identifier of the connection the message was received from, on the originating relay.
	Origin string `json:"origin"`
	// The message's text.
	Text string `json:"text"`
	// The identifier of the bridge that published the message.
	Node string `json:"node"`
}

// An Option configures a Bridge.
type Option func(*Bridge)

// WithNode sets the identifier the bridge recognizes its own messages by.
// It must be unique among the bridges sharing a subject. Defaults to a random UUID.
func WithNode(id string) Option {
	return func(b *Bridge) {
		if id != "" {
			b.node = id
		}
	}
}

// WithLogger sets the logger forwarding failures are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// A Bridge publishes and receives relay messages on a NATS subject.
type Bridge struct {
	nc      *nats.Conn
	subject string
	node    string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// New creates a bridge that exchanges messages on the given subject using the NATS connection.
// The connection is owned by the caller.
func New(nc *nats.Conn, subject string, options ...Option) *Bridge {
	if nc == nil {
		panic("go-relay.natsbridge.New: connection cannot be nil")
	}
	if subject == "" {
		subject = DefaultSubject
	}

	b := &Bridge{
		nc:      nc,
		subject: subject,
		node:    uuid.NewString(),
		logger:  slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	b.logger = b.logger.With("subject", subject, "node", b.node)

	return b
}

// Node returns the bridge's identifier.
func (b *Bridge) Node() string { return b.node }

// Publish sends the message to the other relays. It implements relay.Upstream.
func (b *Bridge) Publish(ctx context.Context, msg relay.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(Envelope{Origin: msg.Origin, Text: msg.Text, Node: b.node})
	if err != nil {
		return fmt.Errorf("natsbridge: marshal envelope: %w", err)
	}

	if err := b.nc.Publish(b.subject, data); err != nil {
		return fmt.Errorf("natsbridge: publish: %w", err)
	}
	return nil
}

// Forward broadcasts every message published by other bridges to dst. Messages published
// by this bridge are skipped, even if the server echoes them back. Messages of a single
// relay are broadcast in the order they were published.
//
// Forward returns once the subscription is established; call Close to stop forwarding.
func (b *Bridge) Forward(dst relay.Broadcaster) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		return ErrForwarding
	}

	sub, err := b.nc.Subscribe(b.subject, func(m *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			b.logger.Warn("dropping malformed envelope", "err", err)
			return
		}
		if env.Node == b.node {
			return
		}

		// Connection identifiers are local to each relay, so nobody is excluded here.
		d := dst.Broadcast(context.Background(), relay.Message{Text: env.Text})
		b.logger.Debug("forwarded message", "from", env.Node, "recipients", d.Recipients, "failed", d.Failed)
	})
	if err != nil {
		return fmt.Errorf("natsbridge: subscribe: %w", err)
	}

	if err := b.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("natsbridge: flush subscription: %w", err)
	}

	b.sub = sub
	return nil
}

// Close stops forwarding, letting the messages already received be broadcast.
// Calling Close multiple times does nothing.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub == nil {
		return nil
	}

	err := b.sub.Drain()
	b.sub = nil
	if err != nil {
		return fmt.Errorf("natsbridge: drain: %w", err)
	}
	return nil
}

var _ relay.Upstream = (*Bridge)(nil)
