package firewall

import "net/netip"

type Action uint8

const (
	// Skip leaves matching traffic alone.
	Skip Action = iota + 1
	// Redirect sends matching traffic to ToPort on the local host.
	Redirect
)

// Rule is one entry of a Plan. Exactly one of UID, Dst or Port is the
// match.
type Rule struct {
	Action Action

	HasUID bool
	UID    uint32

	Dst netip.Prefix

	Port   uint16
	ToPort uint16
}

// Plan is the ordered rule list of the redirect chain. The first matching
// rule decides.
type Plan struct {
	Rules []Rule
}

// NewPlan returns the rules that precede every redirect: owner exemptions,
// then excluded subnets in order.
func NewPlan(cfg Config) Plan {
	var p Plan
	for _, uid := range cfg.ExemptUIDs {
		p.Rules = append(p.Rules, Rule{Action: Skip, HasUID: true, UID: uid})
	}
	for _, dst := range cfg.Exclude {
		p.Rules = append(p.Rules, Rule{Action: Skip, Dst: dst})
	}
	return p
}

// AddRedirect appends a redirect of destination port to toPort and returns
// the new rule.
func (p *Plan) AddRedirect(port, toPort uint16) Rule {
	r := Rule{Action: Redirect, Port: port, ToPort: toPort}
	p.Rules = append(p.Rules, r)
	return r
}

func (r Rule) matches(dst netip.AddrPort, uid uint32) bool {
	switch {
	case r.HasUID:
		return r.UID == uid
	case r.Dst.IsValid():
		return r.Dst.Contains(dst.Addr().Unmap())
	default:
		return r.Port == dst.Port()
	}
}

// Verdict reports where an outbound TCP connection to dst, made by a socket
// owned by uid, ends up: the local port it is redirected to, or false if it
// goes out untouched.
func (p Plan) Verdict(dst netip.AddrPort, uid uint32) (uint16, bool) {
	for _, r := range p.Rules {
		if !r.matches(dst, uid) {
			continue
		}
		if r.Action == Redirect {
			return r.ToPort, true
		}
		return 0, false
	}
	return 0, false
}
