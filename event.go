package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names used on the wire.
const (
	// EventRoomChat is sent by clients that want to broadcast text to the room.
	// Its payload is a raw string.
	EventRoomChat = "room_chat"
	// EventReturnChat is sent by the relay to deliver text written by another client.
	// Its payload is an object of the form {"message": string}.
	EventReturnChat = "return_chat"
)

// Inbound is an event received from a client. The set of inbound events is closed:
// only the types in this package implement it, so Relay.Handle can switch over them exhaustively.
type Inbound interface {
	inbound()
}

// Outbound is an event the relay sends to clients.
type Outbound interface {
	// Event returns the event's wire name.
	Event() string
}

// RoomChat is the inbound request to broadcast Text to every other connection in the room.
type RoomChat struct {
	Text string
}

func (RoomChat) inbound() {}

// ReturnChat carries text sent by another connection.
type ReturnChat struct {
	Message string `json:"message"`
}

// Event implements Outbound.
func (ReturnChat) Event() string { return EventReturnChat }

// Message is a single piece of text being relayed. Origin identifies the connection
// it was received from and is only used to exclude that connection from the broadcast;
// it is never sent to peers. An empty Origin excludes nobody.
type Message struct {
	Origin string
	Text   string
}

var (
	// ErrMalformedFrame is returned when a frame received from a connection can't be decoded.
	ErrMalformedFrame = errors.New("go-relay: malformed frame")
	// ErrUnknownEvent is returned when a well-formed frame names an event the relay doesn't handle.
	ErrUnknownEvent = errors.New("go-relay: unknown event")
)

// A Frame is the JSON envelope events travel in:
//
//	{"event": "room_chat", "data": "hello"}
//	{"event": "return_chat", "data": {"message": "hello"}}
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame creates a frame for the given event, marshaling the payload to JSON.
func NewFrame(event string, payload any) (Frame, error) {
	if event == "" {
		return Frame{}, fmt.Errorf("%w: empty event name", ErrMalformedFrame)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("go-relay: marshal %s payload: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// ParseFrame parses a JSON envelope. It does not interpret the frame's data.
func ParseFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}
	return f, nil
}

var jsonNull = []byte("null")

// Decode unmarshals the frame's data into v. Missing and null data are malformed.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 || bytes.Equal(f.Data, jsonNull) {
		return fmt.Errorf("%w: %s frame has no data", ErrMalformedFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, f.Event, err)
	}
	return nil
}

// MarshalBinary returns the frame's JSON encoding.
func (f Frame) MarshalBinary() ([]byte, error) {
	return json.Marshal(f)
}
