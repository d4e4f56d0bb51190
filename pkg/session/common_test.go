package session

import (
	"context"
	"errors"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/engine"
	"github.com/ooni/minikcp/internal/eventloop"
	"github.com/ooni/minikcp/internal/future"
	"github.com/ooni/minikcp/internal/model"
	"github.com/ooni/minikcp/internal/networkio"
	"github.com/ooni/minikcp/internal/optional"
	"github.com/ooni/minikcp/pkg/config"
)

//
// Common utilities for tests in this package.
//

// fakeEngine is an [engine.Engine] controlled by tests. Every field is
// accessed on the loop.
type fakeEngine struct {
	output   engine.OutputFunc
	inputs   [][]byte
	ready    [][]byte
	sent     [][]byte
	pending  [][]byte
	updates  int
	released int
	inputRV  int
	sendRV   int
	mtu      int
}

var _ engine.Engine = &fakeEngine{}

func (fe *fakeEngine) Input(datagram []byte) int {
	if fe.inputRV < 0 {
		return fe.inputRV
	}
	fe.inputs = append(fe.inputs, append([]byte{}, datagram...))
	return 0
}

func (fe *fakeEngine) PeekSize() int {
	if len(fe.ready) == 0 {
		return -1
	}
	return len(fe.ready[0])
}

func (fe *fakeEngine) Recv(buf []byte) int {
	if len(fe.ready) == 0 {
		return -1
	}
	n := copy(buf, fe.ready[0])
	fe.ready = fe.ready[1:]
	return n
}

func (fe *fakeEngine) Send(data []byte) int {
	if fe.sendRV < 0 {
		return fe.sendRV
	}
	fe.sent = append(fe.sent, append([]byte{}, data...))
	fe.pending = append(fe.pending, append([]byte("seg:"), data...))
	return 0
}

// Update emits one datagram per segment queued by Send.
func (fe *fakeEngine) Update(nowMs uint32) {
	fe.updates++
	pending := fe.pending
	fe.pending = nil
	for _, seg := range pending {
		fe.output(seg)
	}
}

func (fe *fakeEngine) Check(nowMs uint32) uint32 {
	return nowMs
}

func (fe *fakeEngine) SetMTU(mtu int) int {
	if mtu < 50 {
		return -1
	}
	fe.mtu = mtu
	return 0
}

func (fe *fakeEngine) SetWindowSize(sndwnd, rcvwnd int) int {
	return 0
}

func (fe *fakeEngine) SetNoDelay(nodelay, interval, resend, nc int) int {
	return 0
}

func (fe *fakeEngine) Release() {
	fe.released++
}

// fakeSend is a transmit submitted to a fakeSocket.
type fakeSend struct {
	buf  []byte
	addr optional.Value[netip.AddrPort]
	cb   networkio.SendFunc
}

// fakeSocket is a [networkio.Socket] controlled by tests. Every field
// is accessed on the loop.
type fakeSocket struct {
	connected bool
	armed     bool
	recvStops int
	recvSize  int
	alloc     networkio.AllocFunc
	recvCb    networkio.RecvFunc
	sendErr   error
	sends     []*fakeSend
	closing   bool
	closeCb   func()
}

var _ networkio.Socket = &fakeSocket{}

func (fs *fakeSocket) Bind(addr netip.AddrPort, flags networkio.BindFlags) error {
	return nil
}

func (fs *fakeSocket) Connect(addr netip.AddrPort) error {
	fs.connected = true
	return nil
}

func (fs *fakeSocket) Connected() bool {
	return fs.connected
}

func (fs *fakeSocket) RecvStart(size int, alloc networkio.AllocFunc, cb networkio.RecvFunc) error {
	fs.armed = true
	fs.recvSize = size
	fs.alloc = alloc
	fs.recvCb = cb
	return nil
}

func (fs *fakeSocket) RecvStop() error {
	fs.recvStops++
	fs.armed = false
	return nil
}

func (fs *fakeSocket) Send(buf []byte, addr optional.Value[netip.AddrPort], cb networkio.SendFunc) error {
	if fs.sendErr != nil {
		return fs.sendErr
	}
	fs.sends = append(fs.sends, &fakeSend{buf: buf, addr: addr, cb: cb})
	return nil
}

func (fs *fakeSocket) Close(cb func()) {
	if fs.closing {
		return
	}
	fs.closing = true
	fs.armed = false
	fs.closeCb = cb
}

// confirmClose fails the queued sends and runs the close callback.
func (fs *fakeSocket) confirmClose() {
	sends := fs.sends
	fs.sends = nil
	for _, req := range sends {
		req.cb(syscall.EBADF)
	}
	if cb := fs.closeCb; cb != nil {
		fs.closeCb = nil
		cb()
	}
}

// complete completes the oldest queued send with err.
func (fs *fakeSocket) complete(err error) {
	req := fs.sends[0]
	fs.sends = fs.sends[1:]
	req.cb(err)
}

// deliver emulates the reception of data from addr.
func (fs *fakeSocket) deliver(data []byte, addr netip.AddrPort, flags networkio.RecvFlags) {
	buf := fs.alloc(fs.recvSize)
	n := copy(buf, data)
	fs.recvCb(networkio.Datagram{Buf: buf, N: n, Addr: addr, Flags: flags}, nil)
}

// notify emulates the wakeup of a stopped reception.
func (fs *fakeSocket) notify() {
	fs.recvCb(networkio.Datagram{Buf: fs.alloc(fs.recvSize)}, nil)
}

// fail emulates a reception error.
func (fs *fakeSocket) fail(err error) {
	fs.recvCb(networkio.Datagram{Buf: fs.alloc(fs.recvSize)}, err)
}

func (fs *fakeSocket) Fileno() (int, error) {
	return 42, nil
}

func (fs *fakeSocket) LocalAddr() (addrcodec.Address, error) {
	return addrcodec.Parse("127.0.0.1:5000")
}

func (fs *fakeSocket) RemoteAddr() (addrcodec.Address, error) {
	return addrcodec.Address{}, syscall.ENOTCONN
}

// harness is a session wired to a fake engine and a fake socket.
type harness struct {
	t      *testing.T
	loop   *eventloop.Loop
	alloc  *engine.CountingAllocator
	logger *model.TestLogger
	engine *fakeEngine
	socket *fakeSocket
	sess   *Session
}

var peerA = netip.MustParseAddrPort("127.0.0.1:4000")

// newHarness opens a session whose clock never fires on its own.
func newHarness(t *testing.T) *harness {
	h := &harness{
		t:      t,
		loop:   eventloop.New(model.NewTestLogger()),
		alloc:  engine.NewCountingAllocator(),
		logger: model.NewTestLogger(),
		engine: &fakeEngine{},
		socket: &fakeSocket{},
	}
	t.Cleanup(h.loop.Stop)
	cfg := config.NewConfig(
		config.WithLogger(h.logger),
		config.WithLoop(h.loop),
		config.WithAllocator(h.alloc),
		config.WithTickInterval(time.Hour),
		config.WithReadSize(1500),
		config.WithEngineFactory(func(conv uint32, output engine.OutputFunc) engine.Engine {
			h.engine.output = output
			return h.engine
		}),
		config.WithSocketFactory(func(*eventloop.Loop, model.Logger, addrcodec.Family) (networkio.Socket, error) {
			return h.socket, nil
		}),
	)
	sess, err := Open(cfg, FamilyIPv4, 7)
	if err != nil {
		t.Fatal(err)
	}
	h.sess = sess
	return h
}

// on runs fx on the loop.
func (h *harness) on(fx func()) {
	if err := h.loop.Do(fx); err != nil {
		h.t.Fatal(err)
	}
}

// tick runs one iteration of the clock driver.
func (h *harness) tick() {
	h.on(h.sess.st.onTick)
}

// await waits for a future to settle.
func await[T any](t *testing.T, fut *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := fut.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not settle")
	}
	return v, err
}

// addrOf returns the destination of req, or the zero address.
func addrOf(req *fakeSend) netip.AddrPort {
	ap, _ := req.addr.Get()
	return ap
}
