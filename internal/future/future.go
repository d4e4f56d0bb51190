// Package future implements a single-slot, settle-once completion handle.
//
// A [Future] is settled by the event loop that owns the operation and
// awaited by any other goroutine. Settling is lock free: the first caller
// of [Future.Fulfill] or [Future.Reject] wins, every later call is a no-op
// returning false, and waiters are released exactly once.
package future

import (
	"context"
	"errors"
	"sync/atomic"
)

// State is the state of a [Future].
type State int32

const (
	// Pending means the future has not been settled yet.
	Pending = State(iota)

	// settling is the transient state while the value is being stored.
	settling

	// Fulfilled means the future carries a value.
	Fulfilled

	// Rejected means the future carries an error.
	Rejected
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Pending, settling:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// ErrRejectedWithNil is used when [Future.Reject] is called with a nil error.
var ErrRejectedWithNil = errors.New("future: rejected without an error")

// Future is a settle-once asynchronous result. The zero value is
// invalid; use [New].
type Future[T any] struct {
	state atomic.Int32
	done  chan struct{}
	value T
	err   error
}

// New creates a pending [Future].
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved creates a [Future] already fulfilled with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.Fulfill(value)
	return f
}

// Pending returns whether the future has not been settled yet.
func (f *Future[T]) Pending() bool {
	s := State(f.state.Load())
	return s == Pending || s == settling
}

// State returns the current state.
func (f *Future[T]) State() State {
	s := State(f.state.Load())
	if s == settling {
		return Pending
	}
	return s
}

// Fulfill settles the future with value. It returns false if the
// future was already settled.
func (f *Future[T]) Fulfill(value T) bool {
	if !f.state.CompareAndSwap(int32(Pending), int32(settling)) {
		return false
	}
	f.value = value
	f.state.Store(int32(Fulfilled))
	close(f.done)
	return true
}

// Reject settles the future with err. It returns false if the
// future was already settled.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = ErrRejectedWithNil
	}
	if !f.state.CompareAndSwap(int32(Pending), int32(settling)) {
		return false
	}
	f.err = err
	f.state.Store(int32(Rejected))
	close(f.done)
	return true
}

// Done returns a channel closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the settled value and error. It must only be
// called after [Future.Done] has been closed.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Await blocks until the future is settled or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
