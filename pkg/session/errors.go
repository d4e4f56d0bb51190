package session

import "errors"

var (
	// ErrInit indicates that the session resources could not be allocated.
	ErrInit = errors.New("couldn't initialize KCP session")

	// ErrBusy indicates that an operation of the same kind is pending.
	ErrBusy = errors.New("resource busy")

	// ErrClosed indicates that the session was closed.
	ErrClosed = errors.New("session closed")

	// ErrNoPeer indicates a send without destination on a session
	// that is neither connected nor has sent to a peer before.
	ErrNoPeer = errors.New("no destination address")

	// ErrInvalidParameter indicates that the engine refused a setting.
	ErrInvalidParameter = errors.New("invalid parameter")
)
