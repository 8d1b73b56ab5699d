//go:build linux

package origdst

import (
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// IsSupported is true where OriginalDst can work.
const IsSupported = true

// OriginalDst returns the destination c was addressed to before it was
// redirected to this host.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	tc, local, err := localIPv4(c)
	if err != nil {
		return netip.AddrPort{}, err
	}

	rc, err := tc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, &ResolutionError{Err: err}
	}

	var (
		dst    netip.AddrPort
		optErr error
	)
	err = rc.Control(func(fd uintptr) {
		// The kernel fills a sockaddr_in; IPv6Mreq is merely a 20-byte
		// buffer that x/sys can hand to getsockopt on every architecture.
		mreq, err := unix.GetsockoptIPv6Mreq(int(fd), unix.SOL_IP, unix.SO_ORIGINAL_DST)
		if err != nil {
			optErr = fmt.Errorf("getsockopt SO_ORIGINAL_DST: %w", err)
			return
		}
		dst, optErr = ParseSockaddrInet4(mreq.Multiaddr[:])
	})
	if err != nil {
		return netip.AddrPort{}, &ResolutionError{Err: err}
	}
	if optErr != nil {
		return netip.AddrPort{}, &ResolutionError{Err: optErr}
	}

	if err := checkLoop(dst, local); err != nil {
		return netip.AddrPort{}, err
	}
	return dst, nil
}
