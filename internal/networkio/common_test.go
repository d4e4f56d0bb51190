package networkio

import (
	"net/netip"
	"testing"
	"time"

	"github.com/apex/log"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/eventloop"
)

//
// Common utilities for tests in this package.
//

var loopback = netip.MustParseAddrPort("127.0.0.1:0")

// newTestLoop creates a loop stopped at the end of the test.
func newTestLoop(t *testing.T) *eventloop.Loop {
	l := eventloop.New(log.Log)
	t.Cleanup(l.Stop)
	return l
}

// newBoundSocket creates a socket bound to an ephemeral loopback port.
func newBoundSocket(t *testing.T, l *eventloop.Loop, flags BindFlags) (*UDPSocket, netip.AddrPort) {
	var (
		s   *UDPSocket
		err error
		ap  netip.AddrPort
	)
	l.Do(func() {
		s, err = NewUDPSocket(l, log.Log, addrcodec.FamilyIPv4)
		if err != nil {
			return
		}
		if err = s.Bind(loopback, flags); err != nil {
			return
		}
		var local addrcodec.Address
		local, err = s.LocalAddr()
		if err != nil {
			return
		}
		ap, err = addrcodec.ToAddrPort(local)
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { closeSocket(t, l, s) })
	return s, ap
}

// closeSocket closes s and waits for the close confirmation.
func closeSocket(t *testing.T, l *eventloop.Loop, s *UDPSocket) {
	done := make(chan struct{})
	if err := l.Do(func() { s.Close(func() { close(done) }) }); err != nil {
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("close confirmation did not arrive")
	}
}

type recvResult struct {
	d   Datagram
	err error
}

// waitFor waits for a value on ch or fails the test.
func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	panic("unreachable")
}

func alloc(size int) []byte {
	return make([]byte, size)
}
