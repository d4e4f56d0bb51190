package session

import (
	"github.com/ooni/minikcp/internal/addrcodec"
	"github.com/ooni/minikcp/internal/future"
	"github.com/ooni/minikcp/internal/networkio"
)

// Address is a structured UDP address.
type Address = addrcodec.Address

// Family is an address family.
type Family = addrcodec.Family

const (
	FamilyUnspec = addrcodec.FamilyUnspec
	FamilyIPv4   = addrcodec.FamilyIPv4
	FamilyIPv6   = addrcodec.FamilyIPv6
)

// BindFlags are the options accepted by [Session.Bind].
type BindFlags = networkio.BindFlags

const (
	// IPv6Only disables dual-stack support on IPv6 sessions.
	IPv6Only = networkio.BindIPv6Only

	// Partial delivers truncated datagrams to the engine, flagged with
	// [RecvPartial], instead of discarding them.
	Partial = networkio.BindPartial

	// ReuseAddr allows binding an address already in use.
	ReuseAddr = networkio.BindReuseAddr
)

// RecvFlags are the transport flags attached to a [Datagram].
type RecvFlags = networkio.RecvFlags

// RecvPartial means the datagram carrying the packet was truncated.
const RecvPartial = networkio.RecvPartial

// Datagram is the value of a fulfilled read.
type Datagram struct {
	// Data is the reassembled packet. It is nil when the read was
	// cancelled by Close.
	Data []byte

	// Flags are the transport flags of the last datagram fed to the engine.
	Flags RecvFlags

	// Addr is the sender of the last datagram fed to the engine.
	Addr Address
}

// IsEmpty returns whether d is the result of a read cancelled by Close.
func (d Datagram) IsEmpty() bool {
	return d.Data == nil
}

// ReadFuture is the completion handle returned by [Session.Recv].
type ReadFuture = future.Future[Datagram]

// WriteFuture is the completion handle returned by [Session.Send].
type WriteFuture = future.Future[struct{}]

const (
	// DefaultMTU is the MTU used by SetMTU callers without a preference.
	DefaultMTU = 1400

	// DefaultSendWindow is the default send window, in packets.
	DefaultSendWindow = 32

	// DefaultRecvWindow is the default receive window, in packets.
	DefaultRecvWindow = 32
)

// NoDelay is the nodelay mode of the engine.
type NoDelay struct {
	// Enabled enables nodelay mode.
	Enabled bool

	// IntervalMs is the internal flush interval, in milliseconds.
	IntervalMs int

	// Resend is the fast retransmission threshold (0 disables it).
	Resend int

	// NoCongestionControl disables congestion control.
	NoCongestionControl bool
}

// DefaultNoDelay returns the low latency nodelay mode.
func DefaultNoDelay() NoDelay {
	return NoDelay{Enabled: true, IntervalMs: 20, Resend: 2, NoCongestionControl: true}
}
