package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	relay "github.com/tmaxmax/go-relay"
)

const (
	// Time allowed to write a message to the relay.
	writeWait = 10 * time.Second
	// The relay pings about once a minute; a connection silent for longer than this is considered dropped.
	readTimeout = 90 * time.Second
)

// EventCallback is a function that is called for each received event it is registered for.
type EventCallback func(Event)

type handler struct {
	id    int
	event string
	fn    EventCallback
}

// Connection is a connection to a relay's room. Created using the Client struct,
// a Connection sends the queued events to the relay and calls the registered
// callbacks for the events it receives. If the connection drops, it is reestablished.
//
// The only supported transport is the relay's JSON websocket endpoint.
type Connection struct {
	client   Client
	ctx      context.Context
	endpoint string
	header   http.Header
	logger   *slog.Logger

	outbound chan []byte
	// A frame whose write failed. It is sent first after reconnecting.
	pending []byte
	// Held for reading by Send, so done can't be closed between its check and the enqueue.
	sendMu  sync.RWMutex
	done    chan struct{}
	started atomic.Bool

	mu       sync.Mutex
	handlers []handler
	nextID   int
}

// Send queues an event with the given name and JSON encodable payload for sending.
// It doesn't wait for the event to be written: events queued while the connection
// is down are sent once it is reestablished.
//
// Send fails with ErrQueueFull when too many events are waiting and with
// ErrConnectionClosed after Connect has returned.
func (c *Connection) Send(event string, payload any) error {
	f, err := relay.NewFrame(event, payload)
	if err != nil {
		return err
	}
	b, err := f.MarshalBinary()
	if err != nil {
		return err
	}

	c.sendMu.RLock()
	defer c.sendMu.RUnlock()

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.outbound <- b:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendChat sends text to every other client in the room.
func (c *Connection) SendChat(text string) error {
	return c.Send(relay.EventRoomChat, text)
}

// OnEvent registers a callback for the events with the given name. An empty name
// registers the callback for all events. Callbacks are called in the order they were
// registered, on the goroutine running Connect, one event at a time and in the order
// the events were received. They must not block for long, as no other events are
// processed in the meantime.
//
// The returned function removes the callback. It can be called from inside a callback.
func (c *Connection) OnEvent(name string, fn EventCallback) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.handlers = append(c.handlers, handler{id: id, event: name, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		for i, h := range c.handlers {
			if h.id == id {
				c.handlers = append(c.handlers[:i:i], c.handlers[i+1:]...)
				return
			}
		}
	}
}

// OnChat registers a callback for the text other clients send to the room.
func (c *Connection) OnChat(fn func(message string)) (remove func()) {
	return c.OnEvent(relay.EventReturnChat, func(e Event) {
		var rc relay.ReturnChat
		if err := e.Decode(&rc); err != nil {
			c.logger.Warn("ignoring return_chat", "err", err)
			return
		}
		fn(rc.Message)
	})
}

func (c *Connection) dispatch(ev Event) {
	c.mu.Lock()
	handlers := make([]handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		if h.event == "" || h.event == ev.Name {
			handlers = append(handlers, h)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h.fn(ev)
	}
}

// Connect dials the relay and, if successful, starts exchanging events. The caller
// goroutine is blocked until the connection's context is done, the relay closes
// the connection normally or an error occurs.
//
// When the connection drops or can't be established, it is reattempted for the number of
// times the Client is configured with, using an exponential backoff. Handshakes rejected
// with a 4xx status and connections closed by the relay because of a protocol violation
// are not retried. Errors returned are of type *ConnectionError.
//
// Connect returns nil when the context is done or the relay closed the connection normally.
// Afterwards, Send fails. Connect cannot be called twice for the same connection.
func (c *Connection) Connect() error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrConnectCalled
	}
	defer c.close()

	b := c.client.newBackoff(c.ctx)

	op := func() error {
		ws, res, err := c.client.Dialer.DialContext(c.ctx, c.endpoint, c.header)
		if err != nil {
			if c.ctx.Err() != nil {
				return nil
			}
			e := &ConnectionError{Endpoint: c.endpoint, Reason: "unable to dial", Err: err}
			if res != nil {
				e.Err = fmt.Errorf("%w: status %d %s", err, res.StatusCode, http.StatusText(res.StatusCode))
				if res.StatusCode >= 400 && res.StatusCode < 500 {
					e.Reason = "handshake rejected"
					return e.permanent()
				}
			}
			return e
		}

		b.Reset()

		return c.serve(ws)
	}

	err := backoff.RetryNotify(op, b, c.client.OnRetry)
	if err != nil && c.ctx.Err() != nil && errors.Is(err, c.ctx.Err()) {
		return nil
	}
	return err
}

func (c *Connection) close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	close(c.done)
}

func (c *Connection) serve(ws *websocket.Conn) error {
	stop := make(chan struct{})
	defer func() {
		close(stop)
		_ = ws.Close()
	}()

	c.logger.Debug("connected to relay")

	frames := make(chan relay.Frame)
	readErr := make(chan error, 1)
	go c.read(ws, frames, readErr, stop)

	if c.pending != nil {
		if err := c.write(ws, c.pending); err != nil {
			return &ConnectionError{Endpoint: c.endpoint, Reason: "write failed", Err: err}
		}
		c.pending = nil
	}

	for {
		select {
		case f := <-frames:
			c.dispatch(Event{Name: f.Event, Data: f.Data})
		case b := <-c.outbound:
			if err := c.write(ws, b); err != nil {
				c.pending = b
				return &ConnectionError{Endpoint: c.endpoint, Reason: "write failed", Err: err}
			}
		case err := <-readErr:
			return c.readError(err)
		case <-c.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		}
	}
}

func (c *Connection) readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Debug("relay closed the connection")
		return nil
	}

	e := &ConnectionError{Endpoint: c.endpoint, Reason: "connection dropped", Err: err}
	if websocket.IsCloseError(err, websocket.CloseInvalidFramePayloadData, websocket.ClosePolicyViolation, websocket.CloseMessageTooBig, websocket.CloseUnsupportedData) {
		e.Reason = "closed by relay"
		return e.permanent()
	}

	c.logger.Debug("connection dropped", "err", err)
	return e
}

func (c *Connection) read(ws *websocket.Conn, frames chan<- relay.Frame, readErr chan<- error, stop <-chan struct{}) {
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		f, err := relay.ParseFrame(data)
		if err != nil {
			c.logger.Warn("ignoring frame", "err", err)
			continue
		}

		select {
		case frames <- f:
		case <-stop:
			return
		}
	}
}

func (c *Connection) write(ws *websocket.Conn, b []byte) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, b)
}
