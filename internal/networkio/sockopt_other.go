//go:build !unix

package networkio

import (
	"errors"
	"net/netip"

	"github.com/ooni/minikcp/internal/addrcodec"
)

func setBindOptions(fd uintptr, addr netip.AddrPort, flags BindFlags) error {
	if flags&(BindReuseAddr|BindIPv6Only) != 0 {
		return errors.ErrUnsupported
	}
	return nil
}

func connectFD(fd uintptr, addr netip.AddrPort) error {
	return errors.ErrUnsupported
}

func sockname(fd uintptr) (addrcodec.Address, error) {
	return addrcodec.Address{}, errors.ErrUnsupported
}

func peername(fd uintptr) (addrcodec.Address, error) {
	return addrcodec.Address{}, errors.ErrUnsupported
}

func isTruncated(flags int) bool {
	return false
}
