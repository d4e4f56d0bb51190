package session

import (
	"fmt"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/engine"
	"github.com/ooni/minikcp/internal/future"
	"github.com/ooni/minikcp/internal/networkio"
	"github.com/ooni/minikcp/internal/optional"
)

// recv arms a read. A packet already reassembled by the engine
// resolves the read immediately.
func (st *state) recv(size int) (*ReadFuture, error) {
	if err := st.usable(); err != nil {
		return nil, err
	}
	if st.pendingRead != nil {
		return nil, ErrBusy
	}
	if size <= 0 {
		size = st.readSize
	}
	if data, ok := st.drain(); ok {
		return future.Resolved(st.datagram(data)), nil
	}
	if err := st.socket.RecvStart(size, st.alloc.Alloc, st.onRecv); err != nil {
		return nil, err
	}
	st.pendingRead = future.New[Datagram]()
	return st.pendingRead, nil
}

// drain extracts the next reassembled packet from the engine.
func (st *state) drain() ([]byte, bool) {
	size := st.engine.PeekSize()
	if size < 0 {
		return nil, false
	}
	data := make([]byte, size)
	if n := st.engine.Recv(data); n >= 0 && n <= size {
		return data[:n], true
	}
	return nil, false
}

func (st *state) datagram(data []byte) Datagram {
	d := Datagram{Data: data, Flags: st.lastFlags}
	if st.lastFrom.IsValid() {
		d.Addr = addrcodec.FromAddrPort(st.lastFrom)
	}
	return d
}

// onRecv receives the datagrams read by the transport. It owns d.Buf
// and returns it to the allocator on every path.
func (st *state) onRecv(d networkio.Datagram, err error) {
	if d.Buf != nil {
		defer st.alloc.Free(d.Buf)
	}
	if st.socketClosed {
		return
	}
	if err != nil {
		st.logger.Warnf("session %s: recv: %s", st.id, err.Error())
		if serr := st.socket.RecvStop(); serr != nil {
			st.logger.Debugf("session %s: RecvStop: %s", st.id, serr.Error())
		}
		if read := st.pendingRead; read != nil {
			st.pendingRead = nil
			read.Reject(err)
		}
		return
	}
	if d.IsNotification() {
		return
	}
	st.lastFrom = d.Addr
	st.lastFlags = d.Flags
	if st.peer.IsNone() && !st.socket.Connected() {
		st.logger.Debugf("session %s: learned peer %s", st.id, d.Addr)
		st.peer = optional.Some(d.Addr)
	}
	if rv := st.engine.Input(d.Buf[:d.N]); rv < 0 {
		st.logger.Debugf("session %s: engine rejected datagram from %s: %d", st.id, d.Addr, rv)
		return
	}
	read := st.pendingRead
	if read == nil {
		return
	}
	data, ok := st.drain()
	if !ok {
		return
	}
	st.pendingRead = nil
	if serr := st.socket.RecvStop(); serr != nil {
		st.logger.Debugf("session %s: RecvStop: %s", st.id, serr.Error())
	}
	read.Fulfill(st.datagram(data))
}

// send submits data to the engine. dest, when set, becomes the peer.
func (st *state) send(data []byte, dest optional.Value[Address]) (*WriteFuture, error) {
	if err := st.usable(); err != nil {
		return nil, err
	}
	if st.pendingWrite != nil {
		return nil, ErrBusy
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidParameter)
	}
	peer := st.peer
	if addr, ok := dest.Get(); ok {
		ap, err := addrcodec.ToAddrPort(addr)
		if err != nil {
			return nil, err
		}
		if !st.family.Accepts(ap) {
			return nil, fmt.Errorf("%w: %s is not usable by a %s session", addrcodec.ErrInvalidAddress, ap, st.family)
		}
		peer = optional.Some(ap)
	}
	if peer.IsNone() && !st.socket.Connected() {
		return nil, ErrNoPeer
	}
	buf := st.alloc.Alloc(len(data))
	copy(buf, data)
	pw := &pendingWrite{result: future.New[struct{}](), buf: buf}
	st.pendingWrite = pw
	if rv := st.engine.Send(buf); rv < 0 {
		st.pendingWrite = nil
		st.alloc.Free(buf)
		return nil, fmt.Errorf("%w: send returned %d", engine.ErrEngine, rv)
	}
	st.peer = peer
	return pw.result, nil
}

// output transmits a datagram produced by the engine. The first
// transmit after a send submission settles that send.
func (st *state) output(datagram []byte) error {
	if st.socketClosed {
		return ErrClosed
	}
	raw := st.alloc.Alloc(len(datagram))
	copy(raw, datagram)

	var tagged *pendingWrite
	if pw := st.pendingWrite; pw != nil && !pw.submitted {
		pw.submitted = true
		tagged = pw
	}

	err := st.socket.Send(raw, st.peer, func(err error) {
		st.alloc.Free(raw)
		if err != nil {
			st.logger.Debugf("session %s: send: %s", st.id, err.Error())
		}
		if tagged != nil {
			st.settleWrite(tagged, err)
		}
	})
	if err != nil {
		st.alloc.Free(raw)
		st.logger.Debugf("session %s: send: %s", st.id, err.Error())
		if tagged != nil {
			st.settleWrite(tagged, err)
		}
		return err
	}
	return nil
}
