package gerrit

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// receiveEvent pulls the next item off the stream with a timeout.
func receiveEvent(t *testing.T,
	events <-chan fn.Result[Event]) fn.Result[Event] {

	t.Helper()

	select {
	case item, ok := <-events:
		require.True(t, ok, "stream closed unexpectedly")
		return item

	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
		return fn.Result[Event]{}
	}
}

// TestStreamDecodesEventsInOrder subscribes against an in-process server
// that emits two valid events around a garbage line and checks the stream
// forwards exactly the valid ones, in order.
func TestStreamDecodesEventsInOrder(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	defer close(hold)

	srv := newTestSSHServer(t, func(_ string, ch ssh.Channel) {
		_, _ = io.WriteString(ch, commentAddedJSON+"\n")
		_, _ = io.WriteString(ch, "this line is not an event\n")
		_, _ = io.WriteString(ch, reviewerAddedJSON+"\n")

		// Keep the subscription open until the test is done.
		<-hold
		_ = ch.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := StreamEvents(ctx, StreamConfig{Conn: srv.connConfig()})

	first, err := receiveEvent(t, events).Unpack()
	require.NoError(t, err)
	require.IsType(t, &CommentAddedEvent{}, first)

	second, err := receiveEvent(t, events).Unpack()
	require.NoError(t, err)
	require.IsType(t, &ReviewerAddedEvent{}, second)

	// Cancelling the consumer closes the stream without a terminal error.
	cancel()
	for item := range events {
		_, err := item.Unpack()
		require.NoError(t, err)
	}
}

// TestStreamFirstConnectFailureIsTerminal checks that when the very first
// connection attempt fails, the stream emits one terminal error and closes.
func TestStreamFirstConnectFailureIsTerminal(t *testing.T) {
	t.Parallel()

	_, keyPath := writeTestClientKey(t)

	events := StreamEvents(context.Background(), StreamConfig{
		Conn: ConnConfig{
			Addr:        "127.0.0.1:1",
			Username:    "testuser",
			PrivKeyPath: keyPath,
			DialTimeout: time.Second,
		},
	})

	_, err := receiveEvent(t, events).Unpack()
	require.ErrorIs(t, err, ErrStreamTerminated)

	_, ok := <-events
	require.False(t, ok, "stream should close after terminal error")
}

// TestStreamFirstSubscribeFailureIsTerminal checks that a server that
// accepts the connection but rejects the subscription command also
// terminates the stream.
func TestStreamFirstSubscribeFailureIsTerminal(t *testing.T) {
	t.Parallel()

	// A nil handler makes the server reject every exec request.
	srv := newTestSSHServer(t, nil)

	events := StreamEvents(context.Background(), StreamConfig{
		Conn: srv.connConfig(),
	})

	_, err := receiveEvent(t, events).Unpack()
	require.ErrorIs(t, err, ErrStreamTerminated)

	_, ok := <-events
	require.False(t, ok)
}

// TestStreamReconnectsAfterBreak checks that once a subscription has
// succeeded, a server hangup leads to a fresh connect-and-subscribe cycle
// instead of stream termination.
func TestStreamReconnectsAfterBreak(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	defer close(hold)

	var subscriptions atomic.Int32
	srv := newTestSSHServer(t, func(_ string, ch ssh.Channel) {
		if subscriptions.Add(1) == 1 {
			// First subscription: one event, then hang up.
			_, _ = io.WriteString(ch, commentAddedJSON+"\n")
			exitStatus(ch, 0)
			return
		}

		// Second subscription after the reconnect.
		_, _ = io.WriteString(ch, reviewerAddedJSON+"\n")
		<-hold
		_ = ch.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := StreamEvents(ctx, StreamConfig{Conn: srv.connConfig()})

	first, err := receiveEvent(t, events).Unpack()
	require.NoError(t, err)
	require.IsType(t, &CommentAddedEvent{}, first)

	second, err := receiveEvent(t, events).Unpack()
	require.NoError(t, err)
	require.IsType(t, &ReviewerAddedEvent{}, second)

	require.GreaterOrEqual(t, subscriptions.Load(), int32(2))
}
