package relay_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	relay "github.com/tmaxmax/go-relay"
)

func newTestServer(tb testing.TB, r *relay.Relay, options ...relay.ServerOption) string {
	tb.Helper()

	ts := httptest.NewServer(relay.NewServer(r, options...))
	tb.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(tb testing.TB, url string) *websocket.Conn {
	tb.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(tb, err, "failed to dial relay")
	tb.Cleanup(func() { _ = ws.Close() })

	return ws
}

func waitConns(tb testing.TB, r *relay.Relay, n int) {
	tb.Helper()
	require.Eventually(tb, func() bool { return r.Len() == n }, time.Second, time.Millisecond, "expected %d connections", n)
}

func readMessage(tb testing.TB, ws *websocket.Conn) string {
	tb.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(tb, err, "no message received")

	return string(data)
}

func readClose(tb testing.TB, ws *websocket.Conn) int {
	tb.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.ErrorAs(tb, err, &closeErr, "connection was not closed properly")
		return closeErr.Code
	}
}

func writeMessage(tb testing.TB, ws *websocket.Conn, msg string) {
	tb.Helper()
	require.NoError(tb, ws.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestServer(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	a, b, c := dial(t, url), dial(t, url), dial(t, url)
	waitConns(t, r, 3)

	writeMessage(t, a, `{"event":"room_chat","data":"hello"}`)

	require.JSONEq(t, `{"event":"return_chat","data":{"message":"hello"}}`, readMessage(t, b))
	require.JSONEq(t, `{"event":"return_chat","data":{"message":"hello"}}`, readMessage(t, c))

	writeMessage(t, b, `{"event":"room_chat","data":"back"}`)
	require.JSONEq(t, `{"event":"return_chat","data":{"message":"back"}}`, readMessage(t, a), "the sender of the first message received its own message")
}

func TestServer_order(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	sender, peer := dial(t, url), dial(t, url)
	waitConns(t, r, 2)

	for _, text := range []string{"1", "2", "3", "4", "5"} {
		writeMessage(t, sender, `{"event":"room_chat","data":"`+text+`"}`)
	}
	for _, text := range []string{"1", "2", "3", "4", "5"} {
		require.JSONEq(t, `{"event":"return_chat","data":{"message":"`+text+`"}}`, readMessage(t, peer))
	}
}

func TestServer_textCodec(t *testing.T) {
	r := relay.New()
	jsonURL := newTestServer(t, r)
	textURL := newTestServer(t, r, relay.WithCodec(relay.TextCodec{}))

	j, txt := dial(t, jsonURL), dial(t, textURL)
	waitConns(t, r, 2)

	writeMessage(t, txt, "plain words")
	require.JSONEq(t, `{"event":"return_chat","data":{"message":"plain words"}}`, readMessage(t, j))

	writeMessage(t, j, `{"event":"room_chat","data":"framed"}`)
	require.Equal(t, "framed", readMessage(t, txt))
}

func TestServer_malformedFrame(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	bad, peer := dial(t, url), dial(t, url)
	waitConns(t, r, 2)

	writeMessage(t, bad, "not a frame")

	require.Equal(t, websocket.CloseInvalidFramePayloadData, readClose(t, bad))
	waitConns(t, r, 1)

	writeMessage(t, peer, `{"event":"room_chat","data":"still here"}`)
	_ = peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := peer.ReadMessage()
	require.Error(t, err, "nobody else is connected")
}

func TestServer_nullChat(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	bad, peer := dial(t, url), dial(t, url)
	waitConns(t, r, 2)

	writeMessage(t, bad, `{"event":"room_chat","data":null}`)

	require.Equal(t, websocket.CloseInvalidFramePayloadData, readClose(t, bad))
	waitConns(t, r, 1)

	_ = peer.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := peer.ReadMessage()
	require.Error(t, err, "null chat was relayed")
	require.Zero(t, r.Stats()[relay.StatMessages])
}

func TestServer_unknownEvent(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	sender, peer := dial(t, url), dial(t, url)
	waitConns(t, r, 2)

	writeMessage(t, sender, `{"event":"typing","data":true}`)
	writeMessage(t, sender, `{"event":"room_chat","data":"after"}`)

	require.JSONEq(t, `{"event":"return_chat","data":{"message":"after"}}`, readMessage(t, peer), "unknown events must be ignored")
	require.Equal(t, 2, r.Len())
}

func TestServer_maxMessageSize(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r, relay.WithMaxMessageSize(32))

	ws := dial(t, url)
	waitConns(t, r, 1)

	writeMessage(t, ws, `{"event":"room_chat","data":"`+strings.Repeat("x", 64)+`"}`)

	require.Equal(t, websocket.CloseMessageTooBig, readClose(t, ws))
	waitConns(t, r, 0)
}

func TestServer_checkOrigin(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r, relay.WithCheckOrigin(relay.AllowOrigins("http://allowed.example")))

	_, res, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://allowed.example"}})
	require.NoError(t, err)
	_ = ws.Close()
}

func TestAllowOrigins(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	check := relay.AllowOrigins("https://a.example")
	require.True(t, check(req("https://a.example")))
	require.True(t, check(req("")), "non-browser clients must be accepted")
	require.False(t, check(req("https://b.example")))

	require.True(t, relay.AllowOrigins("https://a.example", "*")(req("https://b.example")))
}

func TestServer_shutdown(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	a, b := dial(t, url), dial(t, url)
	waitConns(t, r, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, r.Shutdown(ctx))
	require.Equal(t, websocket.CloseGoingAway, readClose(t, a))
	require.Equal(t, websocket.CloseGoingAway, readClose(t, b))

	late := dial(t, url)
	require.Equal(t, websocket.CloseTryAgainLater, readClose(t, late), "connections must be rejected after shutdown")
}

func TestServer_clientLeaves(t *testing.T) {
	r := relay.New()
	url := newTestServer(t, r)

	leaving := dial(t, url)
	_ = dial(t, url)
	waitConns(t, r, 2)

	require.NoError(t, leaving.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	waitConns(t, r, 1)

	require.Equal(t, int64(1), r.Stats()[relay.StatDisconnected])
}
