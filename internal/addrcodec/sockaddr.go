//go:build unix

package addrcodec

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"golang.org/x/sys/unix"
)

// AddrPortToSockaddr encodes ap into a native socket address.
func AddrPortToSockaddr(ap netip.AddrPort) unix.Sockaddr {
	ip := ap.Addr()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{
		Port:   int(ap.Port()),
		ZoneId: zoneToIndex(ip.Zone()),
		Addr:   ip.As16(),
	}
}

// FromSockaddr decodes a native socket address.
func FromSockaddr(sa unix.Sockaddr) (Address, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return FromAddrPort(netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))), nil
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(v.Addr)
		if v.ZoneId != 0 {
			ip = ip.WithZone(indexToZone(v.ZoneId))
		}
		return FromAddrPort(netip.AddrPortFrom(ip, uint16(v.Port))), nil
	default:
		return Address{}, fmt.Errorf("%w: unsupported sockaddr %T", ErrInvalidAddress, sa)
	}
}

func zoneToIndex(zone string) uint32 {
	if zone == "" {
		return 0
	}
	if n, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(n)
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0
	}
	return uint32(ifi.Index)
}

func indexToZone(index uint32) string {
	ifi, err := net.InterfaceByIndex(int(index))
	if err != nil {
		return strconv.FormatUint(uint64(index), 10)
	}
	return ifi.Name
}
