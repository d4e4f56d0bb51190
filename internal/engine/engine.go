// Package engine defines the contract of the ARQ engine driven by a
// session, and provides the default engine backed by kcp-go.
//
// An [Engine] is a synchronous, single-threaded state machine. It is not
// reentrant: callers must confine every call, including the ones made from
// its [OutputFunc], to a single goroutine.
package engine

import "errors"

// ErrEngine indicates that the engine refused an operation.
var ErrEngine = errors.New("engine error")

// OutputFunc is invoked by the engine whenever it needs to emit a raw
// datagram. The datagram is only valid for the duration of the call.
type OutputFunc func(datagram []byte) error

// Engine is an ARQ engine instance bound to a conversation.
type Engine interface {
	// Input feeds a raw datagram received from the network. It returns
	// a negative value if the datagram was rejected.
	Input(datagram []byte) int

	// PeekSize returns the size of the next reassembled packet, or a
	// negative value if no packet is ready.
	PeekSize() int

	// Recv drains the next reassembled packet into buf and returns its
	// size, or a negative value on failure.
	Recv(buf []byte) int

	// Send enqueues application data. It may synchronously invoke the
	// output function. It returns a negative value on failure.
	Send(data []byte) int

	// Update advances the engine clock to nowMs.
	Update(nowMs uint32)

	// Check returns when Update should next be called.
	Check(nowMs uint32) uint32

	// SetMTU sets the maximum raw datagram size.
	SetMTU(mtu int) int

	// SetWindowSize sets the send and receive window sizes, in packets.
	SetWindowSize(sndwnd, rcvwnd int) int

	// SetNoDelay configures the nodelay mode.
	SetNoDelay(nodelay, interval, resend, nc int) int

	// Release releases the engine. It is idempotent; no other method may
	// be called afterwards.
	Release()
}

// Factory creates an [Engine] for the given conversation.
type Factory func(conv uint32, output OutputFunc) Engine
