//go:build linux

package firewall

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/google/nftables/expr"
)

func TestRuleExprsExclusion(t *testing.T) {
	t.Parallel()

	exprs := ruleExprs(Rule{Action: Skip, Dst: netip.MustParsePrefix("192.168.0.0/16")})
	if len(exprs) != 4 {
		t.Fatalf("got %d exprs", len(exprs))
	}

	bw, ok := exprs[1].(*expr.Bitwise)
	if !ok {
		t.Fatalf("expr 1 is %T", exprs[1])
	}
	if !bytes.Equal(bw.Mask, []byte{255, 255, 0, 0}) {
		t.Errorf("mask %v", bw.Mask)
	}
	cmp, ok := exprs[2].(*expr.Cmp)
	if !ok {
		t.Fatalf("expr 2 is %T", exprs[2])
	}
	if !bytes.Equal(cmp.Data, []byte{192, 168, 0, 0}) {
		t.Errorf("addr %v", cmp.Data)
	}
	if v, ok := exprs[3].(*expr.Verdict); !ok || v.Kind != expr.VerdictAccept {
		t.Errorf("expr 3 is %#v", exprs[3])
	}
}

func TestRuleExprsRedirect(t *testing.T) {
	t.Parallel()

	exprs := ruleExprs(Rule{Action: Redirect, Port: 443, ToPort: 8443})

	port, ok := exprs[3].(*expr.Cmp)
	if !ok || !bytes.Equal(port.Data, []byte{0x01, 0xbb}) {
		t.Errorf("port match %#v", exprs[3])
	}
	imm, ok := exprs[4].(*expr.Immediate)
	if !ok || !bytes.Equal(imm.Data, []byte{0x20, 0xfb}) {
		t.Errorf("redirect target %#v", exprs[4])
	}
	if _, ok := exprs[5].(*expr.Redir); !ok {
		t.Errorf("expr 5 is %T", exprs[5])
	}
}
