// Package addrcodec converts between the host [Address] representation
// and the representations used by the datagram transport.
//
// All functions are pure and safe for concurrent use.
package addrcodec

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// ErrInvalidAddress indicates that an address cannot be encoded or decoded.
var ErrInvalidAddress = errors.New("invalid address")

// Family is an address family.
type Family int

const (
	// FamilyUnspec lets the transport pick the family from the address.
	FamilyUnspec = Family(iota)

	// FamilyIPv4 is the IPv4 family.
	FamilyIPv4

	// FamilyIPv6 is the IPv6 family.
	FamilyIPv6
)

// String implements fmt.Stringer.
func (f Family) String() string {
	switch f {
	case FamilyUnspec:
		return "unspec"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Network returns the name of the UDP network for this family, or an
// empty string for an unknown family.
func (f Family) Network() string {
	switch f {
	case FamilyUnspec:
		return "udp"
	case FamilyIPv4:
		return "udp4"
	case FamilyIPv6:
		return "udp6"
	default:
		return ""
	}
}

// Valid returns whether f is a known family.
func (f Family) Valid() bool {
	return f.Network() != ""
}

// Accepts returns whether a socket of family f can send to or bind ap.
// IPv4 sockets accept IPv4 and IPv4-mapped addresses, IPv6 sockets
// accept any IPv6 address including IPv4-mapped ones.
func (f Family) Accepts(ap netip.AddrPort) bool {
	if !ap.IsValid() {
		return false
	}
	switch f {
	case FamilyUnspec:
		return true
	case FamilyIPv4:
		return ap.Addr().Unmap().Is4()
	case FamilyIPv6:
		return ap.Addr().Is6()
	default:
		return false
	}
}

// Address is the structured address exposed to the host application.
type Address struct {
	// Family is the address family. FamilyUnspec means "infer from IP".
	Family Family

	// IP is the textual IP address, without zone.
	IP string

	// Port is the UDP port.
	Port int

	// Zone is the optional IPv6 scope (interface name or index).
	Zone string
}

// String returns the address in host:port form.
func (a Address) String() string {
	host := a.IP
	if a.Zone != "" {
		host += "%" + a.Zone
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port))
}

// IsZero returns whether a is the zero Address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Parse parses a host:port string whose host is an IP literal.
func Parse(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
	}
	return FromAddrPort(ap), nil
}

// ToAddrPort encodes a into a [netip.AddrPort].
func ToAddrPort(a Address) (netip.AddrPort, error) {
	if a.Port < 0 || a.Port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, a.Port)
	}
	ip, err := netip.ParseAddr(a.IP)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
	}
	if ip.Zone() != "" {
		return netip.AddrPort{}, fmt.Errorf("%w: zone must be set with the Zone field", ErrInvalidAddress)
	}
	switch a.Family {
	case FamilyUnspec:
	case FamilyIPv4:
		if !ip.Unmap().Is4() {
			return netip.AddrPort{}, fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidAddress, a.IP)
		}
		ip = ip.Unmap()
	case FamilyIPv6:
		if !ip.Is6() {
			return netip.AddrPort{}, fmt.Errorf("%w: %s is not an IPv6 address", ErrInvalidAddress, a.IP)
		}
	default:
		return netip.AddrPort{}, fmt.Errorf("%w: unknown family %s", ErrInvalidAddress, a.Family)
	}
	if a.Zone != "" {
		if !ip.Is6() {
			return netip.AddrPort{}, fmt.Errorf("%w: zone on a non IPv6 address", ErrInvalidAddress)
		}
		ip = ip.WithZone(a.Zone)
	}
	return netip.AddrPortFrom(ip, uint16(a.Port)), nil
}

// FromAddrPort decodes ap into an [Address].
func FromAddrPort(ap netip.AddrPort) Address {
	ip := ap.Addr()
	family := FamilyIPv6
	if ip.Is4() {
		family = FamilyIPv4
	}
	return Address{
		Family: family,
		IP:     ip.WithZone("").String(),
		Port:   int(ap.Port()),
		Zone:   ip.Zone(),
	}
}

// FromNetAddr decodes a [net.Addr] returned by the transport.
func FromNetAddr(addr net.Addr) (Address, error) {
	switch v := addr.(type) {
	case *net.UDPAddr:
		if v == nil {
			return Address{}, fmt.Errorf("%w: nil address", ErrInvalidAddress)
		}
		ap := v.AddrPort()
		if !ap.IsValid() {
			return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, v.String())
		}
		if v.IP.To4() != nil {
			// net.IP stores IPv4 addresses in the 16-byte form
			ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
		}
		return FromAddrPort(ap), nil
	case nil:
		return Address{}, fmt.Errorf("%w: nil address", ErrInvalidAddress)
	default:
		ap, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return Address{}, fmt.Errorf("%w: %s", ErrInvalidAddress, err.Error())
		}
		return FromAddrPort(ap), nil
	}
}
