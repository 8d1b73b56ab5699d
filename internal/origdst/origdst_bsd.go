//go:build freebsd || openbsd

package origdst

import (
	"net"
	"net/netip"
)

// IsSupported is true where OriginalDst can work.
const IsSupported = true

// OriginalDst returns the destination c was addressed to before it was
// redirected to this host.
//
// PF rdr-to and IPFW fwd keep the original destination as the local address
// of the accepted connection, so no socket option is needed.
func OriginalDst(c net.Conn) (netip.AddrPort, error) {
	_, local, err := localIPv4(c)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return local, nil
}
