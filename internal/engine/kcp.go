package engine

import (
	kcp "github.com/xtaci/kcp-go/v5"
)

// kcpEngine adapts a [*kcp.KCP] control block to [Engine].
//
// kcp-go keeps its own monotonic millisecond clock and Update is a no-op
// until the configured flush interval elapsed, so the adapter reports
// every tick as due and lets kcp-go gate the flushes.
type kcpEngine struct {
	kcp *kcp.KCP
}

var _ Factory = NewKCP

// NewKCP is the default [Factory]. It creates a kcp-go control block
// bound to conv whose datagrams are emitted through output.
func NewKCP(conv uint32, output OutputFunc) Engine {
	e := &kcpEngine{}
	e.kcp = kcp.NewKCP(conv, func(buf []byte, size int) {
		// kcp-go has no way to report output failures; the session
		// reports them through the write future instead.
		_ = output(buf[:size])
	})
	return e
}

// Input implements Engine.
func (e *kcpEngine) Input(datagram []byte) int {
	return e.kcp.Input(datagram, true, false)
}

// PeekSize implements Engine.
func (e *kcpEngine) PeekSize() int {
	return e.kcp.PeekSize()
}

// Recv implements Engine.
func (e *kcpEngine) Recv(buf []byte) int {
	return e.kcp.Recv(buf)
}

// Send implements Engine.
func (e *kcpEngine) Send(data []byte) int {
	return e.kcp.Send(data)
}

// Update implements Engine.
func (e *kcpEngine) Update(nowMs uint32) {
	e.kcp.Update()
}

// Check implements Engine.
func (e *kcpEngine) Check(nowMs uint32) uint32 {
	return nowMs
}

// SetMTU implements Engine.
func (e *kcpEngine) SetMTU(mtu int) int {
	return e.kcp.SetMtu(mtu)
}

// SetWindowSize implements Engine.
func (e *kcpEngine) SetWindowSize(sndwnd, rcvwnd int) int {
	return e.kcp.WndSize(sndwnd, rcvwnd)
}

// SetNoDelay implements Engine.
func (e *kcpEngine) SetNoDelay(nodelay, interval, resend, nc int) int {
	return e.kcp.NoDelay(nodelay, interval, resend, nc)
}

// Release implements Engine.
func (e *kcpEngine) Release() {
	if e.kcp == nil {
		return
	}
	e.kcp.ReleaseTX()
	e.kcp = nil
}
