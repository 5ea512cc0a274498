package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second
	// Pings are sent to clients with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// DefaultMaxMessageSize is the largest message, in bytes, accepted from a client by default.
const DefaultMaxMessageSize = 64 << 10

// A ServerOption configures a certain property of a given Server.
type ServerOption func(*Server)

// WithCodec sets the codec messages are exchanged with. JSONCodec is used by default.
func WithCodec(codec Codec) ServerOption {
	return func(s *Server) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithServerLogger sets the logger connection events are reported to.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithQueueSize sets the capacity of the outbound queue of each connection.
func WithQueueSize(n int) ServerOption {
	return func(s *Server) {
		s.queueSize = n
	}
}

// WithCheckOrigin sets the function the Origin header of upgrade requests is validated with.
// By default, cross-origin requests are rejected. See AllowOrigins.
func WithCheckOrigin(fn func(*http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// WithMaxMessageSize sets the largest message, in bytes, accepted from a client.
// Clients sending larger messages are disconnected.
func WithMaxMessageSize(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxMessageSize = n
		}
	}
}

// AllowOrigins returns an origin check that accepts requests from the given origins.
// A "*" origin accepts every request. Requests without an Origin header, which don't
// come from browsers, are always accepted.
func AllowOrigins(origins ...string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// A Server is the websocket transport of a Relay. It implements http.Handler:
// each request is upgraded to a websocket connection, which is registered with the relay
// for as long as it stays open.
//
// Multiple servers, for example with different codecs, can share the same relay.
// Their clients are then part of the same room.
type Server struct {
	relay          *Relay
	codec          Codec
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	queueSize      int
	maxMessageSize int64
}

// NewServer creates a websocket transport for the given relay.
func NewServer(r *Relay, options ...ServerOption) *Server {
	if r == nil {
		panic("go-relay.NewServer: relay cannot be nil")
	}

	s := &Server{
		relay:  r,
		codec:  JSONCodec{},
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		queueSize:      DefaultQueueSize,
		maxMessageSize: DefaultMaxMessageSize,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// ServeHTTP upgrades the request and relays the client's events until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied with an error status.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := NewConn(s.queueSize)
	if err := s.relay.OnConnect(c); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, ErrRelayClosed) {
			code = websocket.CloseTryAgainLater
		}
		closeWith(ws, code, "connection rejected")
		_ = ws.Close()
		return
	}

	logger := s.logger.With("conn", c.ID(), "remote", r.RemoteAddr)
	logger.Info("client connected")

	go s.write(ws, c, logger)
	s.read(r.Context(), ws, c, logger)

	s.relay.OnDisconnect(c)
	logger.Info("client disconnected")
}

// read processes the client's messages in the order they arrive. It returns
// when the connection fails or the client sends something it shouldn't.
func (s *Server) read(ctx context.Context, ws *websocket.Conn, c *Conn, logger *slog.Logger) {
	ws.SetReadLimit(s.maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn("websocket read failed", "err", err)
			} else {
				logger.Debug("websocket closed", "err", err)
			}
			return
		}

		in, err := s.codec.Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				logger.Debug("ignoring event", "err", err)
				continue
			}
			logger.Warn("dropping client", "err", err)
			closeWith(ws, websocket.CloseInvalidFramePayloadData, "malformed frame")
			return
		}

		if err := s.relay.Handle(ctx, c, in); err != nil {
			// The connection was unregistered under us, most likely by a shutdown.
			logger.Debug("handle failed", "err", err)
			return
		}
	}
}

// write drains the connection's queue to the client and keeps the connection alive with pings.
// Closing the websocket on return unblocks read.
func (s *Server) write(ws *websocket.Conn, c *Conn, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case ev := <-c.Outbound():
			data, err := s.codec.Encode(ev)
			if err != nil {
				logger.Warn("encode failed", "event", ev.Event(), "err", err)
				continue
			}

			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(s.codec.MessageType(), data); err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("websocket ping failed", "err", err)
				return
			}
		case <-c.Done():
			closeWith(ws, websocket.CloseGoingAway, "")
			return
		}
	}
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}
