package session

import (
	"fmt"
	"net/netip"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/engine"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/model"
	"github.com/ooni/minikcp/internal/networkio"
	"github.com/ooni/minikcp/internal/optional"
	"github.com/ooni/minikcp/internal/runtimex"
	"github.com/ooni/minikcp/pkg/config"
)

// pendingWrite is the write in flight and the payload copy it owns.
type pendingWrite struct {
	result    *WriteFuture
	buf       []byte
	submitted bool
	settled   bool
}

// state is the loop-owned part of a session. Every method runs on the
// loop goroutine. It never references the public [*Session] so that
// the host can drop the handle while the socket is still closing.
type state struct {
	id       string
	conv     uint32
	family   addrcodec.Family
	logger   model.Logger
	loop     *eventloop.Loop
	alloc    engine.Allocator
	readSize int

	socket networkio.Socket
	engine engine.Engine
	clock  *eventloop.Timer

	pendingRead  *ReadFuture
	pendingWrite *pendingWrite

	// peer is the destination of unconnected sends.
	peer optional.Value[netip.AddrPort]

	// lastFrom and lastFlags describe the last datagram fed to the engine.
	lastFrom  netip.AddrPort
	lastFlags RecvFlags

	// lifecycle
	closeStarted bool
	socketClosed bool
	hostReleased bool
	frees        int
}

// open allocates the socket, the engine and the clock.
func (st *state) open(cfg *config.Config) error {
	if !st.family.Valid() {
		return fmt.Errorf("%w: unknown family %s", ErrInit, st.family)
	}
	socket, err := cfg.SocketFactory()(st.loop, st.logger, st.family)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInit, err.Error())
	}
	st.socket = socket
	st.engine = cfg.EngineFactory()(st.conv, st.output)
	st.clock = st.loop.Every(cfg.TickInterval(), st.onTick)
	st.logger.Debugf("session %s: open conv=%d family=%s", st.id, st.conv, st.family)
	return nil
}

// usable returns ErrClosed once the close sequence started.
func (st *state) usable() error {
	if st.closeStarted || st.hostReleased {
		return ErrClosed
	}
	return nil
}

// onTick drives the engine clock.
func (st *state) onTick() {
	if st.socketClosed {
		return
	}
	now := st.loop.NowMs()
	if next := st.engine.Check(now); int32(next-now) <= 0 {
		st.engine.Update(now)
	}
}

// cancelRead resolves the pending read with an empty datagram.
func (st *state) cancelRead() {
	read := st.pendingRead
	if read == nil {
		return
	}
	st.pendingRead = nil
	if err := st.socket.RecvStop(); err != nil {
		st.logger.Debugf("session %s: RecvStop: %s", st.id, err.Error())
	}
	read.Fulfill(Datagram{})
}

// settleWrite settles pw and frees its payload copy, exactly once.
func (st *state) settleWrite(pw *pendingWrite, err error) {
	if pw.settled {
		return
	}
	pw.settled = true
	st.alloc.Free(pw.buf)
	pw.buf = nil
	if st.pendingWrite == pw {
		st.pendingWrite = nil
	}
	if err != nil {
		pw.result.Reject(err)
		return
	}
	pw.result.Fulfill(struct{}{})
}

// close cancels the pending read and starts closing the socket.
func (st *state) close() {
	st.cancelRead()
	st.startSocketClose()
}

// startSocketClose moves from Active to ClosingSocket.
func (st *state) startSocketClose() {
	if st.closeStarted {
		return
	}
	st.closeStarted = true
	st.logger.Debugf("session %s: closing", st.id)
	st.socket.Close(st.onSocketClosed)
}

// onSocketClosed moves from ClosingSocket to SocketClosed.
func (st *state) onSocketClosed() {
	runtimex.Assert(!st.socketClosed, "session: socket closed twice")
	st.clock.Stop()
	st.engine.Release()
	st.socketClosed = true
	st.cancelRead()
	if pw := st.pendingWrite; pw != nil {
		st.settleWrite(pw, ErrClosed)
	}
	st.logger.Debugf("session %s: socket closed", st.id)
	st.maybeFree()
}

// hostRelease runs when the host dropped its last reference.
func (st *state) hostRelease() {
	if st.hostReleased {
		return
	}
	st.hostReleased = true
	st.logger.Debugf("session %s: released by host", st.id)
	st.cancelRead()
	st.startSocketClose()
	st.maybeFree()
}

// maybeFree frees the state once both the socket is closed and the
// host released the session, whichever happened last.
func (st *state) maybeFree() {
	if !st.socketClosed || !st.hostReleased || st.frees > 0 {
		return
	}
	st.frees++
	st.engine = nil
	st.socket = nil
	st.clock = nil
	st.peer = optional.None[netip.AddrPort]()
	st.logger.Debugf("session %s: freed", st.id)
}
