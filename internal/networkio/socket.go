package networkio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/netip"
	"os"
	"syscall"
	"time"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/model"
	"github.com/ooni/minikcp/internal/optional"
	"github.com/ooni/minikcp/internal/workers"
)

var serviceName = "networkio"

// MaxDatagramSize is the maximum UDP datagram size.
const MaxDatagramSize = math.MaxUint16

// sendQueueSize is the capacity of the transmit queue.
const sendQueueSize = 256

// BindFlags are the options accepted by [Socket.Bind].
type BindFlags int

const (
	// BindIPv6Only disables dual-stack support on IPv6 sockets.
	BindIPv6Only = BindFlags(1)

	// BindPartial delivers truncated datagrams flagged with [RecvPartial]
	// instead of discarding them.
	BindPartial = BindFlags(2)

	// BindReuseAddr allows binding an address already in use.
	BindReuseAddr = BindFlags(4)
)

// RecvFlags are the flags attached to a received datagram.
type RecvFlags int

// RecvPartial means the datagram did not fit the receive buffer.
const RecvPartial = RecvFlags(2)

// Datagram is the outcome of one reception.
//
// Buf is the scratch buffer obtained from the [AllocFunc]; ownership passes
// to the [RecvFunc]. N is the number of bytes read. A Datagram with N == 0
// and an invalid Addr is a buffer-lifecycle notification that carries no data.
type Datagram struct {
	Buf   []byte
	N     int
	Addr  netip.AddrPort
	Flags RecvFlags
}

// IsNotification returns whether d only notifies that Buf is released.
func (d Datagram) IsNotification() bool {
	return d.N == 0 && !d.Addr.IsValid()
}

// AllocFunc allocates a scratch buffer of the given size. It is called
// from the moveUpWorker goroutine and must be safe for concurrent use.
type AllocFunc func(size int) []byte

// RecvFunc receives a datagram or a reception error on the loop.
type RecvFunc func(d Datagram, err error)

// SendFunc is called on the loop when a transmit completes.
type SendFunc func(err error)

// Socket is a callback-driven datagram socket owned by an event loop.
type Socket interface {
	// Bind binds the socket to addr.
	Bind(addr netip.AddrPort, flags BindFlags) error

	// Connect associates a default peer with the socket.
	Connect(addr netip.AddrPort) error

	// Connected returns whether Connect succeeded.
	Connected() bool

	// RecvStart arms reception. Each datagram is read into a buffer
	// of the given size and delivered to cb until RecvStop is called.
	RecvStart(size int, alloc AllocFunc, cb RecvFunc) error

	// RecvStop disarms reception.
	RecvStop() error

	// Send submits buf for transmission to addr, or to the connected peer
	// when addr is none. The socket references buf until cb runs. When
	// Send returns an error, cb is never called.
	Send(buf []byte, addr optional.Value[netip.AddrPort], cb SendFunc) error

	// Close starts the asynchronous close. cb runs on the loop once the
	// close is complete. Only the first call has an effect.
	Close(cb func())

	// Fileno returns the underlying descriptor.
	Fileno() (int, error)

	// LocalAddr returns the bound address.
	LocalAddr() (addrcodec.Address, error)

	// RemoteAddr returns the connected peer address.
	RemoteAddr() (addrcodec.Address, error)
}

// recvRequest arms the moveUpWorker for one read.
type recvRequest struct {
	size  int
	alloc AllocFunc
}

// sendRequest is a datagram waiting for the moveDownWorker.
type sendRequest struct {
	buf  []byte
	addr optional.Value[netip.AddrPort]
	cb   SendFunc
}

// UDPSocket is the [Socket] implementation backed by a [*net.UDPConn].
// The zero value is invalid; use [NewUDPSocket].
type UDPSocket struct {
	family    addrcodec.Family
	loop      *eventloop.Loop
	logger    model.Logger
	manager   *workers.Manager
	conn      *closeOnceConn
	connected bool
	closing   bool
	partial   bool

	// reception state
	armed        bool
	recvSize     int
	alloc        AllocFunc
	recvCb       RecvFunc
	recvRequests chan recvRequest

	// transmission state
	sendQueue chan *sendRequest
}

var _ Socket = &UDPSocket{}

// NewUDPSocket creates a [*UDPSocket] for the given family. The
// underlying descriptor is created lazily, on the first Bind, Connect,
// RecvStart or Send.
func NewUDPSocket(loop *eventloop.Loop, logger model.Logger, family addrcodec.Family) (*UDPSocket, error) {
	if !family.Valid() {
		return nil, newError("init", syscall.EAFNOSUPPORT)
	}
	return &UDPSocket{
		family:       family,
		loop:         loop,
		logger:       logger,
		manager:      workers.NewManager(logger),
		recvRequests: make(chan recvRequest, 1),
		sendQueue:    make(chan *sendRequest, sendQueueSize),
	}, nil
}

// Bind implements Socket.
func (s *UDPSocket) Bind(addr netip.AddrPort, flags BindFlags) error {
	if s.closing {
		return newError("bind", ErrClosed)
	}
	if s.conn != nil {
		return newError("bind", ErrAlreadyBound)
	}
	return s.bind(addr, flags)
}

// wildcardFor returns the wildcard address matching peer and the socket family.
func (s *UDPSocket) wildcardFor(peer optional.Value[netip.AddrPort]) netip.AddrPort {
	if s.family == addrcodec.FamilyIPv6 {
		return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
	}
	if s.family == addrcodec.FamilyUnspec {
		if ap, ok := peer.Get(); ok && !ap.Addr().Unmap().Is4() {
			return netip.AddrPortFrom(netip.IPv6Unspecified(), 0)
		}
	}
	return netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
}

// maybeAutoBind binds to the wildcard address if we are not bound yet.
func (s *UDPSocket) maybeAutoBind(peer optional.Value[netip.AddrPort]) error {
	if s.conn != nil {
		return nil
	}
	return s.bind(s.wildcardFor(peer), 0)
}

func (s *UDPSocket) bind(addr netip.AddrPort, flags BindFlags) error {
	if err := checkFamily(s.family, addr); err != nil {
		return newError("bind", err)
	}
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setBindOptions(fd, addr, flags)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	pconn, err := lc.ListenPacket(context.Background(), s.family.Network(), addr.String())
	if err != nil {
		s.logger.Warnf("%s: bind %s failed: %s", serviceName, addr, err.Error())
		return newError("bind", unwrapOpError(err))
	}
	udpConn, ok := pconn.(*net.UDPConn)
	if !ok {
		pconn.Close()
		return newError("bind", fmt.Errorf("unexpected conn type %T", pconn))
	}
	s.conn = newCloseOnceConn(udpConn)
	s.partial = flags&BindPartial != 0
	s.logger.Debugf("%s: bound to %s", serviceName, udpConn.LocalAddr())

	s.manager.StartWorker(s.moveUpWorker)
	s.manager.StartWorker(s.moveDownWorker)
	return nil
}

// checkFamily ensures addr can be used with a socket of the given family.
func checkFamily(family addrcodec.Family, addr netip.AddrPort) error {
	if !addr.IsValid() {
		return syscall.EINVAL
	}
	if !family.Accepts(addr) {
		return syscall.EAFNOSUPPORT
	}
	return nil
}

// unwrapOpError extracts the syscall error from a [*net.OpError].
func unwrapOpError(err error) error {
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return sysErr.Err
	}
	return err
}

// Connect implements Socket.
func (s *UDPSocket) Connect(addr netip.AddrPort) error {
	if s.closing {
		return newError("connect", ErrClosed)
	}
	if err := checkFamily(s.family, addr); err != nil {
		return newError("connect", err)
	}
	if err := s.maybeAutoBind(optional.Some(addr)); err != nil {
		return err
	}
	if err := s.control(func(fd uintptr) error {
		return connectFD(fd, addr)
	}); err != nil {
		return newError("connect", err)
	}
	s.connected = true
	s.logger.Debugf("%s: connected to %s", serviceName, addr)
	return nil
}

// Connected implements Socket.
func (s *UDPSocket) Connected() bool {
	return s.connected
}

// control runs fx with the underlying descriptor.
func (s *UDPSocket) control(fx func(fd uintptr) error) error {
	if s.conn == nil {
		return ErrNotBound
	}
	rc, err := s.conn.SyscallConn()
	if err != nil {
		return err
	}
	var ferr error
	if err := rc.Control(func(fd uintptr) {
		ferr = fx(fd)
	}); err != nil {
		return err
	}
	return ferr
}

// RecvStart implements Socket.
func (s *UDPSocket) RecvStart(size int, alloc AllocFunc, cb RecvFunc) error {
	if s.closing {
		return newError("recv", ErrClosed)
	}
	if size <= 0 || size > MaxDatagramSize {
		size = MaxDatagramSize
	}
	if err := s.maybeAutoBind(optional.None[netip.AddrPort]()); err != nil {
		return err
	}
	s.armed = true
	s.recvSize = size
	s.alloc = alloc
	s.recvCb = cb
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return newError("recv", err)
	}
	s.kick()
	return nil
}

// kick hands one read token to the moveUpWorker.
func (s *UDPSocket) kick() {
	select {
	case s.recvRequests <- recvRequest{size: s.recvSize, alloc: s.alloc}:
	default:
		// a token is already pending
	}
}

// RecvStop implements Socket.
func (s *UDPSocket) RecvStop() error {
	if !s.armed {
		return nil
	}
	s.armed = false
	if s.conn != nil {
		// unblock a read in progress: it completes with a notification
		return s.conn.SetReadDeadline(time.Now())
	}
	return nil
}

// onRecv runs on the loop for every read performed by the moveUpWorker.
func (s *UDPSocket) onRecv(d Datagram, err error) {
	cb := s.recvCb
	switch {
	case err != nil && (isTimeout(err) || errors.Is(err, net.ErrClosed) || s.closing):
		// deadline wakeups and close-induced failures only release the buffer
		err = nil
		d = Datagram{Buf: d.Buf}
	case err != nil:
		err = newError("recv", unwrapOpError(err))
	case d.Flags&RecvPartial != 0 && !s.partial:
		s.logger.Warnf("%s: dropping truncated datagram from %s", serviceName, d.Addr)
		d = Datagram{Buf: d.Buf}
	}
	if cb != nil {
		cb(d, err)
	}
	if s.armed && !s.closing {
		s.kick()
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Send implements Socket.
func (s *UDPSocket) Send(buf []byte, addr optional.Value[netip.AddrPort], cb SendFunc) error {
	if s.closing {
		return newError("send", ErrClosed)
	}
	if len(buf) > MaxDatagramSize {
		return newError("send", ErrPacketTooLarge)
	}
	if ap, ok := addr.Get(); ok {
		if err := checkFamily(s.family, ap); err != nil {
			return newError("send", err)
		}
	} else if !s.connected {
		return newError("send", syscall.EDESTADDRREQ)
	}
	if err := s.maybeAutoBind(addr); err != nil {
		return err
	}
	select {
	case s.sendQueue <- &sendRequest{buf: buf, addr: addr, cb: cb}:
		return nil
	default:
		return newError("send", ErrQueueFull)
	}
}

// Close implements Socket.
func (s *UDPSocket) Close(cb func()) {
	if s.closing {
		return
	}
	s.closing = true
	s.armed = false
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warnf("%s: close: %s", serviceName, err.Error())
		}
	}
	s.manager.StartShutdown()
	go func() {
		s.manager.WaitWorkersShutdown()
		err := s.loop.Post(func() {
			s.failQueuedSends()
			s.logger.Debugf("%s: closed", serviceName)
			if cb != nil {
				cb()
			}
		})
		if err != nil {
			s.logger.Warnf("%s: close confirmation lost: %s", serviceName, err.Error())
		}
	}()
}

// failQueuedSends completes the datagrams that were never written.
func (s *UDPSocket) failQueuedSends() {
	for {
		select {
		case req := <-s.sendQueue:
			req.cb(newError("send", ErrClosed))
		default:
			return
		}
	}
}

// Fileno implements Socket.
func (s *UDPSocket) Fileno() (int, error) {
	fd := -1
	err := s.control(func(v uintptr) error {
		fd = int(v)
		return nil
	})
	if err != nil {
		return -1, newError("fileno", syscall.EBADF)
	}
	return fd, nil
}

// LocalAddr implements Socket.
func (s *UDPSocket) LocalAddr() (addrcodec.Address, error) {
	var addr addrcodec.Address
	err := s.control(func(fd uintptr) (err error) {
		addr, err = sockname(fd)
		return
	})
	if errors.Is(err, errors.ErrUnsupported) {
		return addrcodec.FromNetAddr(s.conn.LocalAddr())
	}
	if err != nil {
		return addrcodec.Address{}, newError("getsockname", err)
	}
	return addr, nil
}

// RemoteAddr implements Socket.
func (s *UDPSocket) RemoteAddr() (addrcodec.Address, error) {
	var addr addrcodec.Address
	err := s.control(func(fd uintptr) (err error) {
		addr, err = peername(fd)
		return
	})
	if err != nil {
		return addrcodec.Address{}, newError("getpeername", err)
	}
	return addr, nil
}
