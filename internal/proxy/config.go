package proxy

import (
	"context"
	"net"
	"net/netip"

	"github.com/die-net/transproxy/internal/bridge"
	"github.com/die-net/transproxy/internal/metrics"
	"github.com/die-net/transproxy/internal/origdst"
	"github.com/die-net/transproxy/internal/relay"
)

// Upstream opens a fresh session to the upstream proxy.
type Upstream interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// Resolver recovers the destination an intercepted connection was originally
// addressed to.
type Resolver func(c net.Conn) (netip.AddrPort, error)

// Config is built once at startup and shared read-only by every Server.
type Config struct {
	Upstream Upstream

	// Resolve defaults to origdst.OriginalDst.
	Resolve Resolver

	Bridge bridge.Options
	Relay  relay.Options

	// MaxConns caps concurrent connections per port. Zero means unlimited.
	MaxConns int

	// AcceptRate caps new connections per second per port. Zero means
	// unlimited.
	AcceptRate float64

	KeepAlive net.KeepAliveConfig

	// Metrics defaults to metrics.Empty.
	Metrics metrics.Metrics

	// Verbose logs every failed connection.
	Verbose bool
}

func (c Config) resolver() Resolver {
	if c.Resolve != nil {
		return c.Resolve
	}
	return origdst.OriginalDst
}

func (c Config) metrics() metrics.Metrics {
	if c.Metrics != nil {
		return c.Metrics
	}
	return metrics.Empty{}
}
