package relay

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// A Codec translates between websocket messages and relay events.
// Codecs must be safe for concurrent use.
type Codec interface {
	// Decode parses a message received from a client. Errors wrap either
	// ErrMalformedFrame, when the connection should be dropped, or ErrUnknownEvent,
	// when the message can be ignored.
	Decode(b []byte) (Inbound, error)
	// Encode serializes an event sent to a client.
	Encode(ev Outbound) ([]byte, error)
	// MessageType is the websocket message type the encoded events are written with.
	MessageType() int
}

// JSONCodec exchanges events as JSON frames. This is the default codec of a Server.
type JSONCodec struct{}

// Decode implements Codec.
func (JSONCodec) Decode(b []byte) (Inbound, error) {
	f, err := ParseFrame(b)
	if err != nil {
		return nil, err
	}

	switch f.Event {
	case EventRoomChat:
		var text string
		if err := f.Decode(&text); err != nil {
			return nil, err
		}
		return RoomChat{Text: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

// Encode implements Codec.
func (JSONCodec) Encode(ev Outbound) ([]byte, error) {
	f, err := NewFrame(ev.Event(), ev)
	if err != nil {
		return nil, err
	}
	return f.MarshalBinary()
}

// MessageType implements Codec.
func (JSONCodec) MessageType() int { return websocket.TextMessage }

// TextCodec exchanges bare text: every message received is a room_chat
// and every return_chat is written as its message text. It suits line-oriented
// tools such as websocat, at the cost of not being able to carry other events.
type TextCodec struct{}

// Decode implements Codec.
func (TextCodec) Decode(b []byte) (Inbound, error) {
	return RoomChat{Text: string(b)}, nil
}

// Encode implements Codec.
func (TextCodec) Encode(ev Outbound) ([]byte, error) {
	switch e := ev.(type) {
	case ReturnChat:
		return []byte(e.Message), nil
	default:
		return nil, fmt.Errorf("%w: %q can't be sent as text", ErrUnknownEvent, ev.Event())
	}
}

// MessageType implements Codec.
func (TextCodec) MessageType() int { return websocket.TextMessage }

var (
	_ Codec = JSONCodec{}
	_ Codec = TextCodec{}
)
