package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialError reports that the upstream proxy could not be reached. It only
// affects the connection being dialed for.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return "upstream proxy " + e.Addr + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Upstream dials the fixed upstream proxy endpoint. It is safe for concurrent
// use; each Dial returns a new, unshared session.
type Upstream struct {
	endpoint netip.AddrPort
	direct   Dialer
}

// NewUpstream returns an Upstream for endpoint.
func NewUpstream(cfg Config, endpoint netip.AddrPort) *Upstream {
	return &Upstream{endpoint: endpoint, direct: NewDirectDialer(cfg)}
}

// Endpoint returns the proxy address.
func (u *Upstream) Endpoint() netip.AddrPort {
	return u.endpoint
}

// Dial makes a single attempt to connect to the proxy.
func (u *Upstream) Dial(ctx context.Context) (net.Conn, error) {
	c, err := u.direct.DialContext(ctx, "tcp", u.endpoint.String())
	if err != nil {
		return nil, &DialError{Addr: u.endpoint.String(), Err: err}
	}
	return c, nil
}

// ResolveEndpoint turns a host:port proxy address into an IP endpoint. Host
// names are looked up once, preferring IPv4.
func ResolveEndpoint(ctx context.Context, hostport string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.AddrPort{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		return netip.AddrPort{}, errors.New("missing host")
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
	}

	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("lookup %s: no addresses", host)
	}
	addr := addrs[0]
	for _, a := range addrs {
		if a.Unmap().Is4() {
			addr = a
			break
		}
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}
