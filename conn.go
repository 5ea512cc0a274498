package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the outbound queue capacity of connections created with a non-positive size.
const DefaultQueueSize = 256

var (
	// ErrConnClosed is returned when sending to a connection that was closed.
	ErrConnClosed = errors.New("go-relay: connection closed")
	// ErrQueueFull is returned by TrySend when the connection's outbound queue has no room.
	ErrQueueFull = errors.New("go-relay: connection queue full")
	// ErrSendTimeout is returned by Send when the queue didn't free up before the context was done.
	ErrSendTimeout = errors.New("go-relay: send timed out")
)

// A Conn is the relay's side of one client's channel. It holds the events waiting to be written
// to the client in a bounded FIFO queue; a transport drains the queue using Outbound and stops
// once Done is closed.
//
// The identifier is assigned by Relay.OnConnect, so a Conn must be registered before its ID is used.
// A Conn can be registered only once, even by concurrent calls.
type Conn struct {
	id    string
	queue chan Outbound
	done  chan struct{}
	once  sync.Once
	// Set by the first OnConnect; id is written only by that call.
	claimed atomic.Bool
}

// NewConn creates an unregistered connection whose outbound queue holds at most queueSize events.
func NewConn(queueSize int) *Conn {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Conn{
		queue: make(chan Outbound, queueSize),
		done:  make(chan struct{}),
	}
}

// ID returns the identifier the relay registered the connection under.
// It is empty for connections that were never registered.
func (c *Conn) ID() string { return c.id }

func (c *Conn) String() string {
	if c.id == "" {
		return "conn(unregistered)"
	}
	return "conn(" + c.id + ")"
}

// Alive reports whether the connection is still open.
func (c *Conn) Alive() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Outbound returns the channel events queued for the client are received from.
// It is never closed; select on Done too.
func (c *Conn) Outbound() <-chan Outbound { return c.queue }

// Close marks the connection as closed. Events still in the queue are abandoned.
// Calling Close multiple times does nothing.
func (c *Conn) Close() {
	c.once.Do(func() { close(c.done) })
}

// TrySend queues the event without blocking.
func (c *Conn) TrySend(ev Outbound) error {
	// Checked separately so a closed connection with room in its queue is never picked.
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.queue <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Send queues the event, waiting for room in the queue until ctx is done.
func (c *Conn) Send(ctx context.Context, ev Outbound) error {
	if err := c.TrySend(ev); !errors.Is(err, ErrQueueFull) {
		return err
	}

	select {
	case c.queue <- ev:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrSendTimeout, ctx.Err())
	}
}
