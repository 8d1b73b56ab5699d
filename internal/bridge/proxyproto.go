package bridge

import (
	"fmt"
	"net"

	"github.com/pires/go-proxyproto"
)

// writeProxyHeader announces the client and its original destination to the
// upstream proxy.
func writeProxyHeader(s Session, version int) error {
	if version != 1 && version != 2 {
		return fmt.Errorf("unsupported PROXY protocol version %d", version)
	}
	h := proxyproto.HeaderProxyFromAddrs(byte(version),
		net.TCPAddrFromAddrPort(s.Source),
		net.TCPAddrFromAddrPort(s.Destination),
	)
	if _, err := h.WriteTo(s.Upstream); err != nil {
		return &HandshakeError{Err: fmt.Errorf("write PROXY header: %w", err)}
	}
	return nil
}
