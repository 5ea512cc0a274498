package client

import (
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrQueueFull is returned by Send when the connection's outbound queue has no room.
	ErrQueueFull = errors.New("go-relay.client: outbound queue full")
	// ErrConnectionClosed is returned by Send after Connect has returned.
	ErrConnectionClosed = errors.New("go-relay.client: connection closed")
	// ErrConnectCalled is returned when Connect is called more than once for the same connection.
	ErrConnectCalled = errors.New("go-relay.client: Connect was already called")
)

// ConnectionError is the type that wraps all the connection errors that occur.
type ConnectionError struct {
	// The endpoint for which the connection failed.
	Endpoint string
	// The reason the operation failed.
	Err error
	// The reason why the connection failed.
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %s: %v", e.Endpoint, e.Reason, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Temporary returns whether the underlying error is temporary.
func (e *ConnectionError) Temporary() bool {
	var t interface{ Temporary() bool }
	if errors.As(e.Err, &t) {
		return t.Temporary()
	}
	return false
}

// Timeout returns whether the underlying error is caused by a timeout.
func (e *ConnectionError) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return false
}

func (e *ConnectionError) permanent() error {
	return backoff.Permanent(e)
}
