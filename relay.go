package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultSendTimeout bounds how long a broadcast waits for slow connections to make room in their queues.
const DefaultSendTimeout = 250 * time.Millisecond

const tracerName = "github.com/tmaxmax/go-relay"

var (
	// ErrUnknownConn is returned when a message is received from a connection that isn't registered.
	ErrUnknownConn = errors.New("go-relay: connection is not registered")
	// ErrRelayClosed is returned by operations attempted after Shutdown was called.
	ErrRelayClosed = errors.New("go-relay: relay is closed")
)

// An Upstream receives every message the relay accepts from its own connections,
// so it can be forwarded to relays running in other processes.
type Upstream interface {
	Publish(ctx context.Context, msg Message) error
}

// A Broadcaster delivers a message to the connections it knows of, except the message's origin.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg Message) Delivery
}

// Delivery reports the outcome of a broadcast.
type Delivery struct {
	// Recipients is the number of connections delivery was attempted to.
	Recipients int `json:"recipients"`
	// Delivered is the number of connections the message was queued for.
	Delivered int `json:"delivered"`
	// Failed is the number of connections that were closed or too slow to receive the message.
	Failed int `json:"failed"`
}

// An Option configures a Relay.
type Option func(*Relay)

// WithRegistry makes the relay use the given registry. Each relay gets its own registry by default.
func WithRegistry(registry *Registry) Option {
	return func(r *Relay) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// WithIDGenerator sets the function connection identifiers are generated with.
// The default generates random UUIDs.
func WithIDGenerator(fn func() string) Option {
	return func(r *Relay) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithSendTimeout sets how long a broadcast waits for connections whose queues are full.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

// WithLogger sets the logger connection lifecycle and delivery failures are reported to.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracerProvider sets the provider of the tracer broadcasts are traced with.
// The global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithUpstream forwards the messages received from the relay's connections to the given upstream.
func WithUpstream(u Upstream) Option {
	return func(r *Relay) {
		r.upstream = u
	}
}

// A Relay owns the connections of a single room and broadcasts the text each of them
// sends to all the others.
//
// The relay doesn't do any I/O itself: transports register connections with OnConnect,
// feed it the events they read with Handle and call OnDisconnect when the connection
// is gone. Events for each client are queued on its Conn, from where the transport writes them.
//
// Messages from a single connection reach every peer in the order they were sent, as long as
// the transport calls Handle sequentially for that connection. There is no ordering between
// messages of different connections.
type Relay struct {
	registry    *Registry
	newID       func() string
	sendTimeout time.Duration
	logger      *slog.Logger
	tracer      trace.Tracer
	upstream    Upstream
	stats       stats

	lifecycle sync.RWMutex
	closed    bool
	drained   chan struct{}
	drainOnce sync.Once
}

// New creates a relay.
func New(options ...Option) *Relay {
	r := &Relay{
		registry:    NewRegistry(),
		newID:       uuid.NewString,
		sendTimeout: DefaultSendTimeout,
		logger:      slog.Default(),
		tracer:      otel.GetTracerProvider().Tracer(tracerName),
		drained:     make(chan struct{}),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// OnConnect registers the connection under a new identifier. If the connection can't be
// registered, it is closed and an error is returned; the transport should drop the client.
// Other connections are never affected by a rejection.
func (r *Relay) OnConnect(c *Conn) error {
	if !c.claimed.CompareAndSwap(false, true) {
		return fmt.Errorf("register: %w", ErrDuplicateConn)
	}

	// Held until the insert is done, so Shutdown can't miss a connection that is being registered.
	r.lifecycle.RLock()
	defer r.lifecycle.RUnlock()

	if r.closed {
		r.reject(c, ErrRelayClosed)
		return ErrRelayClosed
	}

	c.id = r.newID()
	if err := r.registry.Insert(c); err != nil {
		r.reject(c, err)
		return fmt.Errorf("register %s: %w", c.id, err)
	}

	r.stats.accepted.Add(1)
	r.logger.Debug("connection registered", "conn", c.id, "connections", r.registry.Len())

	return nil
}

func (r *Relay) reject(c *Conn, reason error) {
	c.Close()
	r.stats.rejected.Add(1)
	r.logger.Warn("connection rejected", "conn", c.id, "err", reason)
}

// OnMessage broadcasts the text to every connection except the one it came from.
// The text is forwarded as is; empty text is valid.
//
// The connection must be registered, otherwise ErrUnknownConn is returned and nothing is sent.
// Failing to deliver to some connections is not an error: see the returned Delivery.
func (r *Relay) OnMessage(ctx context.Context, c *Conn, text string) (Delivery, error) {
	if !r.registry.Contains(c) {
		return Delivery{}, ErrUnknownConn
	}

	r.stats.messages.Add(1)

	return r.publish(ctx, Message{Origin: c.id, Text: text}), nil
}

// Publish broadcasts text that doesn't come from a registered connection, so every
// connection receives it. Like OnMessage, it is forwarded upstream.
func (r *Relay) Publish(ctx context.Context, text string) Delivery {
	r.stats.messages.Add(1)

	return r.publish(ctx, Message{Text: text})
}

func (r *Relay) publish(ctx context.Context, msg Message) Delivery {
	d := r.Broadcast(ctx, msg)

	if r.upstream != nil {
		if err := r.upstream.Publish(ctx, msg); err != nil {
			r.logger.Warn("upstream publish failed", "origin", msg.Origin, "err", err)
		}
	}

	return d
}

// Handle dispatches an event received from the connection.
func (r *Relay) Handle(ctx context.Context, c *Conn, in Inbound) error {
	switch ev := in.(type) {
	case RoomChat:
		_, err := r.OnMessage(ctx, c, ev.Text)
		return err
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, in)
	}
}

// Broadcast delivers the message as a return_chat event to all the connections
// registered when it is called, except the message's origin. Connections registered
// afterwards don't receive it.
//
// Delivery to each connection is independent: a closed connection or one whose queue stays
// full for longer than the send timeout misses the message, without affecting the others.
// Broadcast returns after every connection either received the message or missed it,
// which takes at most the send timeout.
func (r *Relay) Broadcast(ctx context.Context, msg Message) Delivery {
	ctx, span := r.tracer.Start(ctx, "relay.broadcast")
	defer span.End()

	peers := r.registry.Snapshot(msg.Origin)
	ev := ReturnChat{Message: msg.Text}
	d := Delivery{Recipients: len(peers)}

	var slow []*Conn
	for _, p := range peers {
		err := p.TrySend(ev)
		switch {
		case err == nil:
			d.Delivered++
		case errors.Is(err, ErrQueueFull):
			slow = append(slow, p)
		default:
			r.drop(p, err)
		}
	}

	if len(slow) > 0 {
		d.Delivered += r.sendSlow(ctx, slow, ev)
	}
	d.Failed = d.Recipients - d.Delivered

	r.stats.deliveries.Add(int64(d.Delivered))
	r.stats.failures.Add(int64(d.Failed))

	span.SetAttributes(
		attribute.Int("relay.recipients", d.Recipients),
		attribute.Int("relay.delivered", d.Delivered),
		attribute.Int("relay.failed", d.Failed),
	)

	return d
}

// sendSlow waits for room in the queues of the given connections, all under the same deadline.
// The deadline is detached from ctx's cancellation: a sender that disconnects right
// after sending must not take the pending deliveries down with it.
func (r *Relay) sendSlow(ctx context.Context, peers []*Conn, ev Outbound) int {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.sendTimeout)
	defer cancel()

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)

	for _, p := range peers {
		wg.Add(1)
		go func(p *Conn) {
			defer wg.Done()

			if err := p.Send(ctx, ev); err != nil {
				r.drop(p, err)
				return
			}
			delivered.Add(1)
		}(p)
	}

	wg.Wait()

	return int(delivered.Load())
}

func (r *Relay) drop(c *Conn, err error) {
	r.logger.Debug("delivery dropped", "conn", c.id, "err", err)
}

// OnDisconnect unregisters and closes the connection. Calling it for a connection
// that is already unregistered does nothing.
func (r *Relay) OnDisconnect(c *Conn) {
	removed := r.registry.Remove(c)
	c.Close()

	if !removed {
		return
	}

	r.stats.disconnected.Add(1)
	r.logger.Debug("connection unregistered", "conn", c.id, "connections", r.registry.Len())

	r.checkDrained()
}

func (r *Relay) checkDrained() {
	r.lifecycle.RLock()
	closed := r.closed
	r.lifecycle.RUnlock()

	if closed && r.registry.Len() == 0 {
		r.drainOnce.Do(func() { close(r.drained) })
	}
}

// Shutdown closes every connection and stops accepting new ones. It returns once
// the transports have unregistered all the connections or when ctx is done, whichever
// happens first.
//
// Further calls to Shutdown return ErrRelayClosed.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return ErrRelayClosed
	}
	r.closed = true
	r.lifecycle.Unlock()

	for _, c := range r.registry.Snapshot("") {
		c.Close()
	}
	r.checkDrained()

	select {
	case <-r.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Conn returns the registered connection with the given identifier.
func (r *Relay) Conn(id string) (*Conn, bool) {
	return r.registry.Get(id)
}

// Conns returns the connections registered at the time of the call.
func (r *Relay) Conns() []*Conn {
	return r.registry.Snapshot("")
}

// Len returns the number of registered connections.
func (r *Relay) Len() int {
	return r.registry.Len()
}

// Stats returns a snapshot of the relay's counters, keyed by the Stat constants.
func (r *Relay) Stats() map[string]int64 {
	s := r.stats.snapshot()
	s[StatConnections] = int64(r.registry.Len())
	return s
}

var _ Broadcaster = (*Relay)(nil)
