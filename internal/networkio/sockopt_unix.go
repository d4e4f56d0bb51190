//go:build unix

package networkio

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/ooni/minikcp/internal/addrcodec"
)

// setBindOptions applies the bind flags to fd before bind(2).
func setBindOptions(fd uintptr, addr netip.AddrPort, flags BindFlags) error {
	if flags&BindReuseAddr != 0 {
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return err
		}
	}
	if addr.Addr().Is6() && !addr.Addr().Is4In6() {
		v6only := 0
		if flags&BindIPv6Only != 0 {
			v6only = 1
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			return err
		}
	}
	return nil
}

// connectFD associates fd with the given peer.
func connectFD(fd uintptr, addr netip.AddrPort) error {
	err := unix.Connect(int(fd), addrcodec.AddrPortToSockaddr(addr))
	if addr.Addr().Is4() && (err == unix.EAFNOSUPPORT || err == unix.EINVAL) {
		// dual-stack sockets may require the IPv4-mapped form
		mapped := netip.AddrPortFrom(netip.AddrFrom16(addr.Addr().As16()), addr.Port())
		return unix.Connect(int(fd), addrcodec.AddrPortToSockaddr(mapped))
	}
	return err
}

// sockname returns the address fd is bound to.
func sockname(fd uintptr) (addrcodec.Address, error) {
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return addrcodec.Address{}, err
	}
	return addrcodec.FromSockaddr(sa)
}

// peername returns the address fd is connected to.
func peername(fd uintptr) (addrcodec.Address, error) {
	sa, err := unix.Getpeername(int(fd))
	if err != nil {
		return addrcodec.Address{}, err
	}
	return addrcodec.FromSockaddr(sa)
}

// isTruncated returns whether the recvmsg(2) flags report truncation.
func isTruncated(flags int) bool {
	return flags&unix.MSG_TRUNC != 0
}
