package networkio

import (
	"net"
	"sync"
)

// closeOnceConn is a [*net.UDPConn] where the Close method has once semantics.
//
// The zero value is invalid; use [newCloseOnceConn].
type closeOnceConn struct {
	// once ensures we close just once.
	once sync.Once

	// UDPConn is the underlying conn.
	*net.UDPConn
}

// newCloseOnceConn creates a [*closeOnceConn].
func newCloseOnceConn(conn *net.UDPConn) *closeOnceConn {
	return &closeOnceConn{
		once:    sync.Once{},
		UDPConn: conn,
	}
}

// Close closes the underlying conn the first time it is called and
// returns nil on every later call.
func (c *closeOnceConn) Close() (err error) {
	c.once.Do(func() {
		err = c.UDPConn.Close()
	})
	return
}
