package firewall

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Firewall is the collaborator the dispatcher drives. Install is called once
// per intercepted port before its listener starts; Flush removes every rule
// that was installed. Implementations need not be safe for concurrent use.
type Firewall interface {
	Install(ctx context.Context, port, toPort uint16) error
	Flush(ctx context.Context) error
}

// Config holds what is installed ahead of the first redirect.
type Config struct {
	// Exclude lists destination subnets that are never redirected.
	Exclude []netip.Prefix
	// ExemptUIDs lists socket owners whose traffic is never redirected,
	// typically the upstream proxy itself.
	ExemptUIDs []uint32
}

// New returns the backend named by kind: "iptables", "nftables" or "none".
func New(kind string, cfg Config) (Firewall, error) {
	switch strings.ToLower(kind) {
	case "iptables":
		return NewIPTables(cfg, ExecRunner{}), nil
	case "nftables":
		return NewNFTables(cfg)
	case "none", "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown firewall %q (want iptables, nftables or none)", kind)
	}
}

// Nop installs nothing, for hosts whose redirect rules are managed elsewhere.
type Nop struct{}

func (Nop) Install(context.Context, uint16, uint16) error { return nil }
func (Nop) Flush(context.Context) error                  { return nil }

// ParseExclusions parses CIDR subnets. A bare address is taken as a single
// host. Only IPv4 is accepted.
func ParseExclusions(ss []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(ss))
	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		var p netip.Prefix
		if strings.Contains(s, "/") {
			var err error
			p, err = netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("exclusion %q: %w", s, err)
			}
		} else {
			a, err := netip.ParseAddr(s)
			if err != nil {
				return nil, fmt.Errorf("exclusion %q: %w", s, err)
			}
			p = netip.PrefixFrom(a, a.BitLen())
		}

		if !p.Addr().Is4() {
			return nil, fmt.Errorf("exclusion %q: not an IPv4 subnet", s)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
