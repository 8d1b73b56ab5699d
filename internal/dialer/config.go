package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds the TCP connect to the upstream proxy. Zero means
	// no timeout.
	DialTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
