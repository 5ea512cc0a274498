package client

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConnection_close_waitsForSend(t *testing.T) {
	conn := (&Client{QueueSize: 1}).NewConnection(context.Background(), "ws://localhost:1")

	// A Send that already checked the connection is open.
	conn.sendMu.RLock()

	closed := make(chan struct{})
	go func() {
		conn.close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("connection closed while a Send was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	conn.sendMu.RUnlock()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("connection was not closed")
	}

	require.ErrorIs(t, conn.SendChat("late"), ErrConnectionClosed)
}

func TestConnection_Send_racesConnectReturn(t *testing.T) {
	for range 50 {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		conn := (&Client{QueueSize: 1024}).NewConnection(ctx, "ws://localhost:1")

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted int
		)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					switch err := conn.SendChat("x"); {
					case err == nil:
						mu.Lock()
						accepted++
						mu.Unlock()
					case errors.Is(err, ErrQueueFull):
						runtime.Gosched()
					case errors.Is(err, ErrConnectionClosed):
						return
					default:
						t.Errorf("unexpected error: %v", err)
						return
					}
				}
			}()
		}

		require.NoError(t, conn.Connect())
		wg.Wait()

		require.Equal(t, accepted, len(conn.outbound), "a frame accepted by Send went missing")
	}
}
