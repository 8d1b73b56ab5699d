package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// DefaultMaxHeaderBytes bounds a request or response head when
// Options.MaxHeaderBytes is unset.
const DefaultMaxHeaderBytes = 16 << 10

type Options struct {
	// MaxHeaderBytes caps the bytes scanned while reading a request head
	// from the client or a CONNECT response from the proxy.
	MaxHeaderBytes int

	// NegotiationTimeout bounds the whole handshake. Zero means no timeout.
	NegotiationTimeout time.Duration

	// StrictConnect sends an RFC 7231 CONNECT request with a version and a
	// Host header instead of the bare "CONNECT host:port" line.
	StrictConnect bool

	// ProxyProtocol is the PROXY protocol version (1 or 2) to prepend to
	// the upstream session, or 0 for none.
	ProxyProtocol int
}

func (o Options) maxHeaderBytes() int {
	if o.MaxHeaderBytes > 0 {
		return o.MaxHeaderBytes
	}
	return DefaultMaxHeaderBytes
}

// Session is an intercepted connection paired with its upstream session.
type Session struct {
	Client   net.Conn
	Upstream net.Conn

	// Source is the client address, Destination the address it
	// originally tried to reach.
	Source      netip.AddrPort
	Destination netip.AddrPort
}

// Handshake runs the dialect's setup on s. When it returns nil, both
// connections are ready for raw relaying: anything read ahead during the
// handshake has already been forwarded to the other side.
//
// Canceling ctx aborts a handshake blocked on either connection.
func Handshake(ctx context.Context, d Dialect, s Session, opts Options) (err error) {
	if opts.NegotiationTimeout > 0 {
		dl := time.Now().Add(opts.NegotiationTimeout)
		_ = s.Client.SetDeadline(dl)
		_ = s.Upstream.SetDeadline(dl)
	}

	stop := context.AfterFunc(ctx, func() {
		// An expired deadline unblocks pending reads and writes.
		_ = s.Client.SetDeadline(aLongTimeAgo)
		_ = s.Upstream.SetDeadline(aLongTimeAgo)
	})
	defer func() {
		if !stop() {
			err = errors.Join(err, ctx.Err())
			return
		}
		if err == nil {
			_ = s.Client.SetDeadline(time.Time{})
			_ = s.Upstream.SetDeadline(time.Time{})
		}
	}()

	if opts.ProxyProtocol != 0 {
		if err := writeProxyHeader(s, opts.ProxyProtocol); err != nil {
			return err
		}
	}

	switch d {
	case Connect:
		return connectTunnel(s, opts)
	case HTTP:
		return rewriteHTTP(s, opts)
	case SOCKS5:
		return socks5Tunnel(s)
	default:
		return fmt.Errorf("unsupported dialect %s", d)
	}
}

var aLongTimeAgo = time.Unix(1, 0)
