package actor

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// envelope wraps a message with its associated promise and caller context.
// This allows the sender of an "ask" message to await a response. If the
// promise is nil, it signifies a "tell" operation (fire-and-forget). The
// callerCtx allows actors to respect request-scoped deadlines and
// cancellation.
type envelope[M Message, R any] struct {
	message   M
	promise   Promise[R]
	callerCtx context.Context
}

// Mailbox is an actor's message queue. It is backed by a bounded Go channel
// and provides thread-safe send and receive operations with support for
// context cancellation.
//
// Thread safety:
//   - Send may be called concurrently from multiple goroutines.
//   - Receive should only be called from a single goroutine (the actor's
//     process loop).
//   - Close may be called concurrently with Send and is idempotent.
//   - Drain should only be called after Close and from a single goroutine.
//   - Send returns false after Close has been called.
type Mailbox[M Message, R any] struct {
	// ch is the underlying channel used to store envelopes.
	ch chan envelope[M, R]

	// closed indicates whether the mailbox has been closed. Uses atomic
	// operations for lock-free reads.
	closed atomic.Bool

	// mu protects send operations to prevent sending to a closed channel.
	mu sync.RWMutex

	// closeOnce ensures Close() is executed exactly once.
	closeOnce sync.Once

	// actorCtx is the context governing the actor's lifecycle. When this
	// context is cancelled, receive operations will terminate.
	actorCtx context.Context
}

// NewMailbox creates a new mailbox with the given capacity and actor context.
// If capacity is 0 or negative, it defaults to 1 to ensure the mailbox is
// buffered.
func NewMailbox[M Message, R any](actorCtx context.Context,
	capacity int) *Mailbox[M, R] {

	if capacity <= 0 {
		capacity = 1
	}

	return &Mailbox[M, R]{
		ch:       make(chan envelope[M, R], capacity),
		actorCtx: actorCtx,
	}
}

// Send attempts to send an envelope to the mailbox. It blocks until either
// the envelope is accepted, the caller's context is cancelled, or the actor's
// context is cancelled. Returns true if the envelope was successfully sent,
// false otherwise.
func (m *Mailbox[M, R]) Send(ctx context.Context, env envelope[M, R]) bool {
	// Fast-path rejection when either context is already cancelled. The
	// select below still handles cancellation that happens after this
	// check.
	if ctx.Err() != nil || m.actorCtx.Err() != nil {
		return false
	}

	// Hold the read lock for the entire send operation to prevent
	// send-on-closed-channel panics: Close() must acquire the write lock
	// before closing the channel, and the write lock cannot be acquired
	// while any read lock is held.
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		log.TraceS(ctx, "Mailbox send succeeded",
			"msg_type", env.message.MessageType(),
			"queue_len", len(m.ch))

		return true

	case <-ctx.Done():
		return false

	case <-m.actorCtx.Done():
		return false
	}
}

// Receive returns an iterator over envelopes in the mailbox. The iterator
// will yield envelopes as they arrive and will stop when the provided context
// is cancelled or when the mailbox is closed and drained.
func (m *Mailbox[M, R]) Receive(ctx context.Context) iter.Seq[envelope[M, R]] {
	return func(yield func(envelope[M, R]) bool) {
		for {
			// Check the context first for deterministic shutdown
			// rather than racing in the select between a ready
			// channel and a cancelled context.
			if ctx.Err() != nil {
				return
			}

			select {
			case env, ok := <-m.ch:
				if !ok {
					return
				}

				if !yield(env) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}
}

// Close closes the mailbox, preventing any further sends. This method is safe
// to call multiple times; only the first call will have an effect.
func (m *Mailbox[M, R]) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		log.DebugS(m.actorCtx, "Mailbox closing",
			"remaining_messages", len(m.ch))

		m.closed.Store(true)
		close(m.ch)
	})
}

// IsClosed returns true if the mailbox has been closed.
func (m *Mailbox[M, R]) IsClosed() bool {
	return m.closed.Load()
}

// Drain returns an iterator over any remaining envelopes in the mailbox.
// This should only be called after Close() has been invoked. If the mailbox
// is not closed, it returns immediately without draining.
func (m *Mailbox[M, R]) Drain() iter.Seq[envelope[M, R]] {
	return func(yield func(envelope[M, R]) bool) {
		if !m.IsClosed() {
			return
		}

		for {
			select {
			case env, ok := <-m.ch:
				if !ok {
					return
				}

				if !yield(env) {
					return
				}

			default:
				// No more messages available.
				return
			}
		}
	}
}
