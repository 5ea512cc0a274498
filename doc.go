/*
Package relay implements a single-room chat relay: every piece of text a client sends
with a room_chat event is delivered, unchanged, to every other connected client as a
return_chat event. The sender never receives its own message, and nothing is stored:
clients only receive what is sent while they are connected.

The central piece is the Relay. It owns the connections of the room in a Registry and
broadcasts messages to them, but does no I/O itself. Transports register a Conn for each
client, feed the events they read to the relay and write the events queued on the Conn
back to the client. This package provides two transports: Server, for websockets, and
SSEServer, for server-sent event streams paired with HTTP POST requests. Both can serve
the same relay at once.

On the websocket, events travel as JSON frames by default:

	{"event": "room_chat", "data": "hello"}
	{"event": "return_chat", "data": {"message": "hello"}}

A TextCodec can be used instead for clients that exchange bare text.

Delivery is best effort. Each connection has a bounded queue; a broadcast waits at most
the relay's send timeout for clients whose queues are full, and those that stay full
miss the message without slowing the others down.

Relays in different processes can share a room through an Upstream, such as the NATS
bridge in package natsbridge. On the client side, the client package connects to a relay's
websocket endpoint and reconnects when the connection drops.
*/
package relay
