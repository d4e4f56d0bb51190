package networkio

import (
	"errors"
	"syscall"
)

var (
	// ErrClosed indicates the socket is closing or closed.
	ErrClosed = errors.New("socket closed")

	// ErrPacketTooLarge means that a packet is larger than [MaxDatagramSize].
	ErrPacketTooLarge = errors.New("packet too large")

	// ErrQueueFull means the transmit queue cannot accept more datagrams.
	ErrQueueFull = errors.New("transmit queue full")

	// ErrAlreadyBound means that the socket is already bound.
	ErrAlreadyBound = errors.New("socket already bound")

	// ErrNotBound means that the socket has no underlying descriptor yet.
	ErrNotBound = errors.New("socket not bound")
)

// Error is a transport error. It carries the failed operation and
// the underlying error, which usually wraps a [syscall.Errno].
type Error struct {
	// Op is the failed operation (e.g., "bind", "send").
	Op string

	// Err is the underlying error.
	Err error
}

var _ error = &Error{}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	return "networkio: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errno returns the transport status code, or zero when the
// underlying error does not carry one.
func (e *Error) Errno() int {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}
