package client

import (
	"encoding/json"

	relay "github.com/tmaxmax/go-relay"
)

// The Event struct represents an event sent to the client by the relay.
type Event struct {
	// The event's name, for example relay.EventReturnChat.
	Name string
	// The event's payload in raw JSON form. Use Decode to unmarshal it.
	Data json.RawMessage
}

// Decode unmarshals the event's payload into v.
func (e Event) Decode(v any) error {
	return relay.Frame{Event: e.Name, Data: e.Data}.Decode(v)
}

// String returns the payload as a string.
func (e Event) String() string {
	return string(e.Data)
}
