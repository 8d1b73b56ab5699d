package proxy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/die-net/transproxy/internal/bridge"
)

// Intercept binds an intercepted destination port to a local listener and
// the dialect spoken to the upstream proxy for it.
type Intercept struct {
	// Port is the destination port whose traffic is redirected.
	Port uint16
	// ListenPort is the local port it is redirected to.
	ListenPort uint16
	Dialect    bridge.Dialect
}

func (in Intercept) String() string {
	return fmt.Sprintf("%d:%d=%s", in.Port, in.ListenPort, in.Dialect)
}

// ParseIntercept parses "PORT[:LISTENPORT]=DIALECT". Without LISTENPORT the
// listener uses PORT itself.
func ParseIntercept(s string) (Intercept, error) {
	ports, dialect, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok {
		return Intercept{}, fmt.Errorf("intercept %q: expected PORT[:LISTENPORT]=DIALECT", s)
	}

	d, err := bridge.ParseDialect(dialect)
	if err != nil {
		return Intercept{}, fmt.Errorf("intercept %q: %w", s, err)
	}

	portStr, listenStr, hasListen := strings.Cut(ports, ":")
	port, err := parsePort(portStr)
	if err != nil {
		return Intercept{}, fmt.Errorf("intercept %q: port: %w", s, err)
	}
	listen := port
	if hasListen {
		listen, err = parsePort(listenStr)
		if err != nil {
			return Intercept{}, fmt.Errorf("intercept %q: listen port: %w", s, err)
		}
	}

	return Intercept{Port: port, ListenPort: listen, Dialect: d}, nil
}

// ParseIntercepts parses every entry and rejects duplicate ports.
func ParseIntercepts(ss []string) ([]Intercept, error) {
	out := make([]Intercept, 0, len(ss))
	ports := make(map[uint16]bool)
	listens := make(map[uint16]bool)
	for _, s := range ss {
		in, err := ParseIntercept(s)
		if err != nil {
			return nil, err
		}
		if ports[in.Port] {
			return nil, fmt.Errorf("port %d intercepted twice", in.Port)
		}
		if listens[in.ListenPort] {
			return nil, fmt.Errorf("listen port %d used twice", in.ListenPort)
		}
		ports[in.Port] = true
		listens[in.ListenPort] = true
		out = append(out, in)
	}
	return out, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 16)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errors.New("must be > 0")
	}
	return uint16(n), nil
}
