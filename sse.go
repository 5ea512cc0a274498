package relay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HeaderConnID is the request header an SSE client identifies its connection with when posting a message.
const HeaderConnID = "X-Relay-Conn"

// DefaultKeepAlive is the default interval between the comments an SSEServer sends to idle streams.
const DefaultKeepAlive = 15 * time.Second

// EventConnected is the first event of an SSE stream. Its data is the identifier
// the client must send in the HeaderConnID header.
const EventConnected = "connected"

// ErrUpgradeUnsupported is returned when a request can't be upgraded to an event stream.
var ErrUpgradeUnsupported = errors.New("go-relay: event streams unsupported")

// Canonicalized header keys.
const (
	headerContentType  = "Content-Type"
	headerCacheControl = "Cache-Control"
)

// Pre-allocated header values.
var (
	headerContentTypeValue  = []string{"text/event-stream"}
	headerCacheControlValue = []string{"no-cache"}
)

// An SSEServer is the server-sent events transport of a Relay, for clients that can't open websockets.
//
// A GET request opens a stream: the connection is registered with the relay and
// its return_chat events are written as they come. A POST request sends its body
// as text to the room. With the HeaderConnID header set, the text is sent on behalf of
// that connection, which won't receive it back; otherwise every connection receives it.
// Both reply 202 Accepted with the JSON encoded Delivery.
type SSEServer struct {
	// The relay connections are registered with. Required.
	Relay *Relay
	// The logger stream events are reported to. Defaults to slog.Default().
	Logger *slog.Logger
	// The outbound queue capacity of each connection. Defaults to DefaultQueueSize.
	QueueSize int
	// The interval between keepalive comments. Defaults to DefaultKeepAlive.
	KeepAlive time.Duration
	// The largest accepted POST body, in bytes. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64
}

type writeFlusher interface {
	http.ResponseWriter
	http.Flusher
}

// An UpgradedRequest is used to send events to a client over an event stream.
// Create one using the Upgrade function.
type UpgradedRequest struct {
	w          writeFlusher
	didUpgrade bool
}

// Send writes the message to the client and flushes it. It returns any errors that occurred while writing.
func (u *UpgradedRequest) Send(e *StreamMessage) error {
	if !u.didUpgrade {
		h := u.w.Header()
		h[headerContentType] = headerContentTypeValue
		h[headerCacheControl] = headerCacheControlValue
		u.w.Flush()
		u.didUpgrade = true
	}
	if _, err := e.WriteTo(u.w); err != nil {
		return err
	}
	u.w.Flush()
	return nil
}

// Upgrade upgrades an HTTP request to an event stream. It returns
// ErrUpgradeUnsupported if the response writer can't be flushed.
//
// The stream's headers are only sent when calling Send for the first time.
// Until then, other headers and status codes can safely be set.
func Upgrade(w http.ResponseWriter) (UpgradedRequest, error) {
	fw, ok := w.(writeFlusher)
	if !ok {
		return UpgradedRequest{}, ErrUpgradeUnsupported
	}

	return UpgradedRequest{w: fw}, nil
}

// ServeHTTP implements http.Handler.
func (s *SSEServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.subscribe(w, r)
	case http.MethodPost:
		s.publish(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	}
}

func (s *SSEServer) subscribe(w http.ResponseWriter, r *http.Request) {
	stream, err := Upgrade(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	c := NewConn(s.QueueSize)
	if err := s.Relay.OnConnect(c); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.Relay.OnDisconnect(c)

	logger := s.logger().With("conn", c.ID(), "remote", r.RemoteAddr)
	logger.Info("stream opened")
	defer logger.Info("stream closed")

	connected := &StreamMessage{}
	connected.SetName(EventConnected)
	connected.AppendData(c.ID())
	if err := stream.Send(connected); err != nil {
		logger.Debug("stream write failed", "err", err)
		return
	}

	ping := &StreamMessage{}
	ping.Comment("keepalive")

	ticker := time.NewTicker(s.keepAlive())
	defer ticker.Stop()

	for {
		var m *StreamMessage

		select {
		case ev := <-c.Outbound():
			data, err := json.Marshal(ev)
			if err != nil {
				logger.Warn("encode failed", "event", ev.Event(), "err", err)
				continue
			}
			m = &StreamMessage{}
			m.SetName(ev.Event())
			m.AppendData(string(data))
		case <-ticker.C:
			m = ping
		case <-c.Done():
			return
		case <-r.Context().Done():
			return
		}

		if err := stream.Send(m); err != nil {
			logger.Debug("stream write failed", "err", err)
			return
		}
	}
}

func (s *SSEServer) publish(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxMessageSize()))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var d Delivery
	if id := r.Header.Get(HeaderConnID); id != "" {
		c, ok := s.Relay.Conn(id)
		if !ok {
			http.Error(w, ErrUnknownConn.Error(), http.StatusNotFound)
			return
		}
		if d, err = s.Relay.OnMessage(r.Context(), c, string(body)); err != nil {
			// Disconnected between the lookup and the broadcast.
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	} else {
		d = s.Relay.Publish(r.Context(), string(body))
	}

	w.Header().Set(headerContentType, "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(d); err != nil {
		s.logger().Debug("delivery report write failed", "err", err)
	}
}

func (s *SSEServer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *SSEServer) keepAlive() time.Duration {
	if s.KeepAlive > 0 {
		return s.KeepAlive
	}
	return DefaultKeepAlive
}

func (s *SSEServer) maxMessageSize() int64 {
	if s.MaxMessageSize > 0 {
		return s.MaxMessageSize
	}
	return DefaultMaxMessageSize
}
