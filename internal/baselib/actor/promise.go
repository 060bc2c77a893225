package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promiseImpl is the concrete Promise/Future implementation. The result is
// written at most once, then the done channel is closed so that any number of
// waiters observe completion.
type promiseImpl[T any] struct {
	// done is closed once the result has been set.
	done chan struct{}

	// result holds the completed value. Only valid after done is closed.
	result fn.Result[T]

	// once guards the single completion of the promise.
	once sync.Once
}

// NewPromise creates a new unresolved promise.
func NewPromise[T any]() Promise[T] {
	return &promiseImpl[T]{
		done: make(chan struct{}),
	}
}

// Complete attempts to set the result of the future. It returns true if this
// call successfully set the result, false if the promise was already
// completed.
func (p *promiseImpl[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

// Future returns the Future view of this promise.
func (p *promiseImpl[T]) Future() Future[T] {
	return p
}

// Await blocks until the result is available or the context is cancelled.
func (p *promiseImpl[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// OnComplete registers a callback invoked once the result is ready. The
// callback runs on its own goroutine so a slow consumer never blocks the
// completing party.
func (p *promiseImpl[T]) OnComplete(ctx context.Context,
	callback func(fn.Result[T])) {

	go func() {
		select {
		case <-p.done:
			callback(p.result)

		case <-ctx.Done():
			callback(fn.Err[T](ctx.Err()))
		}
	}()
}
