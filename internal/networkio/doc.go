// Package networkio implements the callback-driven datagram transport
// used by sessions.
//
// A [UDPSocket] is owned by an event loop: its methods must be called
// from loop callbacks, and every completion (received datagram, finished
// transmit, close confirmation) is delivered by posting a callback to the
// same loop. Two workers per socket perform the blocking I/O: the
// moveUpWorker reads datagrams when reception is armed, and the
// moveDownWorker writes queued datagrams.
package networkio
