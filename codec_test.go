package relay_test

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	relay "github.com/tmaxmax/go-relay"
)

func TestJSONCodec_Decode(t *testing.T) {
	type testCase struct {
		name  string
		input string
		want  relay.Inbound
		err   error
	}

	tests := []testCase{
		{name: "room_chat", input: `{"event":"room_chat","data":"hello"}`, want: relay.RoomChat{Text: "hello"}},
		{name: "empty text", input: `{"event":"room_chat","data":""}`, want: relay.RoomChat{}},
		{name: "escaped text", input: `{"event":"room_chat","data":"a\nb \"q\" é"}`, want: relay.RoomChat{Text: "a\nb \"q\" é"}},
		{name: "unknown event", input: `{"event":"typing","data":true}`, err: relay.ErrUnknownEvent},
		{name: "not json", input: `hello`, err: relay.ErrMalformedFrame},
		{name: "no event", input: `{"data":"hello"}`, err: relay.ErrMalformedFrame},
		{name: "no data", input: `{"event":"room_chat"}`, err: relay.ErrMalformedFrame},
		{name: "null data", input: `{"event":"room_chat","data":null}`, err: relay.ErrMalformedFrame},
		{name: "number data", input: `{"event":"room_chat","data":42}`, err: relay.ErrMalformedFrame},
		{name: "non-string data", input: `{"event":"room_chat","data":{"message":"hi"}}`, err: relay.ErrMalformedFrame},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := relay.JSONCodec{}.Decode([]byte(tc.input))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestJSONCodec_Encode(t *testing.T) {
	b, err := relay.JSONCodec{}.Encode(relay.ReturnChat{Message: "hi <there>"})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"return_chat","data":{"message":"hi <there>"}}`, string(b))
	require.Equal(t, websocket.TextMessage, relay.JSONCodec{}.MessageType())
}

func TestTextCodec(t *testing.T) {
	in, err := relay.TextCodec{}.Decode([]byte(`{"event":"room_chat","data":"x"}`))
	require.NoError(t, err)
	require.Equal(t, relay.RoomChat{Text: `{"event":"room_chat","data":"x"}`}, in, "text must be relayed verbatim")

	b, err := relay.TextCodec{}.Encode(relay.ReturnChat{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "hello", string(b))
}

type customEvent struct{}

func (customEvent) Event() string { return "custom" }

func TestTextCodec_Encode_unsupported(t *testing.T) {
	_, err := relay.TextCodec{}.Encode(customEvent{})
	require.ErrorIs(t, err, relay.ErrUnknownEvent)
}

func TestFrame(t *testing.T) {
	f, err := relay.NewFrame(relay.EventReturnChat, relay.ReturnChat{Message: "m"})
	require.NoError(t, err)

	b, err := f.MarshalBinary()
	require.NoError(t, err)

	parsed, err := relay.ParseFrame(b)
	require.NoError(t, err)
	require.Equal(t, relay.EventReturnChat, parsed.Event)

	var rc relay.ReturnChat
	require.NoError(t, parsed.Decode(&rc))
	require.Equal(t, "m", rc.Message)

	_, err = relay.NewFrame("", nil)
	require.ErrorIs(t, err, relay.ErrMalformedFrame)

	_, err = relay.NewFrame("bad", make(chan int))
	require.Error(t, err)
	require.NotErrorIs(t, err, relay.ErrMalformedFrame)
}
