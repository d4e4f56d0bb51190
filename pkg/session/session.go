// Package session implements an asynchronous KCP session.
//
// A [*Session] binds a KCP engine to a UDP socket owned by an event loop.
// All the session state lives on the loop goroutine: the methods of
// [*Session] marshal onto the loop and return immediately, while reads
// and writes complete through futures.
//
// A session is released either explicitly, with [Session.Close], or
// when the host drops its last reference to the handle. The loop-side
// state is freed once the socket is closed and the handle is released.
package session

import (
	"errors"
	"net/netip"
	"runtime"

	"github.com/google/uuid"
	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/optional"
	"github.com/ooni/minikcp/pkg/config"
)

// Session is the host handle of a KCP session.
type Session struct {
	st *state
}

// Open allocates a session with the given conversation ID. The socket
// of the session uses the given family.
func Open(cfg *config.Config, family Family, conv uint32) (*Session, error) {
	st := &state{
		id:       uuid.NewString(),
		conv:     conv,
		family:   family,
		logger:   cfg.Logger(),
		loop:     cfg.Loop(),
		alloc:    cfg.Allocator(),
		readSize: cfg.ReadSize(),
	}
	var err error
	if lerr := st.loop.Do(func() { err = st.open(cfg) }); lerr != nil {
		return nil, errors.Join(ErrInit, lerr)
	}
	if err != nil {
		return nil, err
	}
	s := &Session{st: st}
	runtime.SetFinalizer(s, (*Session).finalize)
	return s, nil
}

// finalize reports the host release to the loop.
func (s *Session) finalize() {
	st := s.st
	if err := st.loop.Post(st.hostRelease); err != nil {
		st.logger.Warnf("session %s: host release lost: %s", st.id, err.Error())
	}
}

// do runs fx on the loop and waits for it.
func (s *Session) do(fx func()) error {
	err := s.st.loop.Do(fx)
	runtime.KeepAlive(s)
	if errors.Is(err, eventloop.ErrLoopClosed) {
		return ErrClosed
	}
	return err
}

// ID returns the unique identifier used in the log lines of the session.
func (s *Session) ID() string {
	return s.st.id
}

// Conv returns the conversation ID.
func (s *Session) Conv() uint32 {
	return s.st.conv
}

// Bind binds the session socket to the given local address.
func (s *Session) Bind(local Address, flags BindFlags) error {
	ap, err := addrcodec.ToAddrPort(local)
	if err != nil {
		return err
	}
	var berr error
	if err := s.do(func() {
		if berr = s.st.usable(); berr != nil {
			return
		}
		berr = s.st.socket.Bind(ap, flags)
	}); err != nil {
		return err
	}
	return berr
}

// Connect sets the default peer of the session.
func (s *Session) Connect(remote Address) error {
	ap, err := addrcodec.ToAddrPort(remote)
	if err != nil {
		return err
	}
	var cerr error
	if err := s.do(func() {
		if cerr = s.st.usable(); cerr != nil {
			return
		}
		if cerr = s.st.socket.Connect(ap); cerr == nil {
			s.st.peer = optional.None[netip.AddrPort]()
		}
	}); err != nil {
		return err
	}
	return cerr
}

// Recv starts reading the next packet. The returned future is
// fulfilled with one reassembled packet, or with an empty [Datagram]
// when the session is closed first, and rejected on transport errors.
// Only one read may be pending; size <= 0 selects the configured size
// of the receive buffer.
func (s *Session) Recv(size int) (*ReadFuture, error) {
	var (
		fut *ReadFuture
		rerr error
	)
	if err := s.do(func() { fut, rerr = s.st.recv(size) }); err != nil {
		return nil, err
	}
	return fut, rerr
}

// Send submits data to the connected peer, or to the last peer used.
func (s *Session) Send(data []byte) (*WriteFuture, error) {
	return s.send(data, optional.None[Address]())
}

// SendTo submits data to dest, which becomes the peer of the
// following calls to [Session.Send].
func (s *Session) SendTo(data []byte, dest Address) (*WriteFuture, error) {
	return s.send(data, optional.Some(dest))
}

func (s *Session) send(data []byte, dest optional.Value[Address]) (*WriteFuture, error) {
	var (
		fut  *WriteFuture
		serr error
	)
	if err := s.do(func() { fut, serr = s.st.send(data, dest) }); err != nil {
		return nil, err
	}
	return fut, serr
}

// Close cancels the pending read and starts closing the socket. It is
// safe to call Close more than once.
func (s *Session) Close() error {
	err := s.do(s.st.close)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// setEngine runs a setter of the engine on the loop.
func (s *Session) setEngine(fx func() int) error {
	var serr error
	if err := s.do(func() {
		if serr = s.st.usable(); serr != nil {
			return
		}
		if fx() < 0 {
			serr = ErrInvalidParameter
		}
	}); err != nil {
		return err
	}
	return serr
}

// SetMTU sets the maximum size of the datagrams emitted by the engine.
func (s *Session) SetMTU(mtu int) error {
	return s.setEngine(func() int { return s.st.engine.SetMTU(mtu) })
}

// SetWindowSize sets the send and receive windows, in packets.
func (s *Session) SetWindowSize(snd, rcv int) error {
	return s.setEngine(func() int { return s.st.engine.SetWindowSize(snd, rcv) })
}

// SetNoDelay configures the nodelay mode of the engine.
func (s *Session) SetNoDelay(nd NoDelay) error {
	if nd.IntervalMs < 0 || nd.Resend < 0 {
		return ErrInvalidParameter
	}
	return s.setEngine(func() int {
		return s.st.engine.SetNoDelay(boolToInt(nd.Enabled), nd.IntervalMs, nd.Resend, boolToInt(nd.NoCongestionControl))
	})
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// Fileno returns the descriptor of the session socket.
func (s *Session) Fileno() (int, error) {
	fd := -1
	var ferr error
	if err := s.do(func() {
		if ferr = s.st.usable(); ferr != nil {
			return
		}
		fd, ferr = s.st.socket.Fileno()
	}); err != nil {
		return -1, err
	}
	return fd, ferr
}

// LocalAddress returns the address the session socket is bound to.
func (s *Session) LocalAddress() (Address, error) {
	return s.address(func() (Address, error) { return s.st.socket.LocalAddr() })
}

// RemoteAddress returns the address the session socket is connected to.
func (s *Session) RemoteAddress() (Address, error) {
	return s.address(func() (Address, error) { return s.st.socket.RemoteAddr() })
}

func (s *Session) address(fx func() (Address, error)) (Address, error) {
	var (
		addr Address
		aerr error
	)
	if err := s.do(func() {
		if aerr = s.st.usable(); aerr != nil {
			return
		}
		addr, aerr = fx()
	}); err != nil {
		return Address{}, err
	}
	return addr, aerr
}
