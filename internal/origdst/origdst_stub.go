//go:build !linux && !freebsd && !openbsd

package origdst

import (
	"errors"
	"net"
	"net/netip"
)

// IsSupported is true where OriginalDst can work.
const IsSupported = false

func OriginalDst(_ net.Conn) (netip.AddrPort, error) {
	return netip.AddrPort{}, &ResolutionError{Err: errors.New("not supported on this platform")}
}
