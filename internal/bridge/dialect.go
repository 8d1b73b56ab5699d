package bridge

import (
	"fmt"
	"strings"
)

// Dialect selects how an upstream session is set up.
type Dialect uint8

const (
	Connect Dialect = iota + 1
	HTTP
	SOCKS5
)

func (d Dialect) String() string {
	switch d {
	case Connect:
		return "connect"
	case HTTP:
		return "http"
	case SOCKS5:
		return "socks5"
	default:
		return fmt.Sprintf("dialect(%d)", uint8(d))
	}
}

// ParseDialect parses a dialect name, case-insensitively.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connect":
		return Connect, nil
	case "http":
		return HTTP, nil
	case "socks5":
		return SOCKS5, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q (want connect, http or socks5)", s)
	}
}
