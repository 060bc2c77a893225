package gerrit

import (
	"bufio"
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"golang.org/x/crypto/ssh"
)

const (
	// defaultSubscribeCmd subscribes to the two event types the bot acts
	// on. Everything else never leaves the server.
	defaultSubscribeCmd = "gerrit stream-events -s comment-added " +
		"-s reviewer-added"

	// defaultStreamBuffer is the outbound channel capacity. Keeping it
	// small means a stalled consumer stalls the producer instead of
	// piling up events.
	defaultStreamBuffer = 1

	// maxEventLineSize bounds a single event line. Commit messages make
	// events large, but not this large.
	maxEventLineSize = 1 << 20
)

// StreamConfig bundles what StreamEvents needs to run its connect, subscribe
// and read cycle.
type StreamConfig struct {
	// Conn holds the connection parameters. The stream owns the
	// connection it makes from them.
	Conn ConnConfig

	// SubscribeCmd overrides the subscription command. Empty selects the
	// default comment-added/reviewer-added subscription.
	SubscribeCmd string

	// BufferSize is the outbound channel capacity. Zero selects a
	// capacity of one.
	BufferSize int
}

// StreamEvents connects to the configured server, subscribes to review
// events and republishes them, decoded, on the returned channel in arrival
// order.
//
// A failure of the very first connect-and-subscribe cycle is fatal: the
// stream publishes one terminal error wrapping ErrStreamTerminated and
// closes. Once a subscription has succeeded at least once, broken transports
// are retried indefinitely under the connection's retry policy and the
// stream keeps going. Canceling the context closes the channel without a
// terminal error.
func StreamEvents(ctx context.Context,
	cfg StreamConfig) <-chan fn.Result[Event] {

	subscribeCmd := cfg.SubscribeCmd
	if subscribeCmd == "" {
		subscribeCmd = defaultSubscribeCmd
	}
	bufferSize := cfg.BufferSize
	if bufferSize == 0 {
		bufferSize = defaultStreamBuffer
	}

	out := make(chan fn.Result[Event], bufferSize)

	go streamLoop(ctx, cfg.Conn, subscribeCmd, out)

	return out
}

// streamLoop drives the connect, subscribe and read cycle until the context
// ends or the stream turns terminal.
func streamLoop(ctx context.Context, connCfg ConnConfig, subscribeCmd string,
	out chan<- fn.Result[Event]) {

	defer close(out)

	terminate := func(err error) {
		log.Errorf("Event stream terminating: %v", err)

		item := fn.Err[Event](fmt.Errorf("%w: %w",
			ErrStreamTerminated, err))
		select {
		case out <- item:
		case <-ctx.Done():
		}
	}

	conn, err := Connect(connCfg)
	if err != nil {
		terminate(err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	subscribedOnce := false
	for {
		sess, lines, err := subscribe(conn, subscribeCmd)
		if err != nil {
			// The first subscription attempt failing is fatal.
			// After that, a failed subscribe is just another
			// broken transport.
			if !subscribedOnce {
				terminate(err)
				return
			}

			log.Warnf("Resubscribing to events failed: %v", err)

			if err := conn.ReconnectRepeatedly(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				terminate(err)
				return
			}

			continue
		}
		subscribedOnce = true

		log.Infof("Subscribed to events on %s", conn.Addr())

		err = publishLines(ctx, lines, out)
		_ = sess.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warnf("Event stream broken, reconnecting: %v", err)

		if err := conn.ReconnectRepeatedly(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			terminate(err)
			return
		}
	}
}

// subscribe opens a fresh session on the connection and issues the event
// subscription command, handing back the line source the server writes
// events to.
func subscribe(conn *Conn, subscribeCmd string) (*ssh.Session, *bufio.Scanner,
	error) {

	sess, err := conn.OpenSession()
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open session: %w", err)
	}

	stdout, err := sess.StdoutPipe()
	if err != nil {
		_ = sess.Close()
		return nil, nil, fmt.Errorf("unable to attach stdout: %w", err)
	}

	if err := sess.Start(subscribeCmd); err != nil {
		_ = sess.Close()
		return nil, nil, fmt.Errorf("unable to subscribe: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)

	return sess, scanner, nil
}

// publishLines decodes each line the server sends and publishes the events
// that decode cleanly, preserving arrival order. Malformed lines are logged
// and dropped. The send blocks when the consumer is behind, so a stalled
// consumer exerts backpressure all the way to the server.
func publishLines(ctx context.Context, lines *bufio.Scanner,
	out chan<- fn.Result[Event]) error {

	for lines.Scan() {
		line := lines.Bytes()

		event, err := DecodeEvent(line)
		if err != nil {
			log.Debugf("Dropping undecodable event line: %v", err)
			continue
		}

		log.Tracef("Received %s event for change %s",
			event.EventType(), event.EventChange().ID)

		select {
		case out <- fn.Ok(event):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := lines.Err(); err != nil {
		return err
	}

	// A clean EOF means the server hung up, which for a stream that never
	// ends is as broken as a read error.
	return fmt.Errorf("event stream closed by server")
}
