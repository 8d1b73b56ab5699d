package main

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/die-net/transproxy/internal/firewall"
)

func TestParseTCPKeepAlive(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    net.KeepAliveConfig
		wantErr bool
	}{
		{in: "on", want: net.KeepAliveConfig{Enable: true}},
		{in: " OFF ", want: net.KeepAliveConfig{}},
		{in: "45:15:3", want: net.KeepAliveConfig{Enable: true, Idle: 45 * time.Second, Interval: 15 * time.Second, Count: 3}},
		{in: "", wantErr: true},
		{in: "45:15", wantErr: true},
		{in: "0:15:3", wantErr: true},
		{in: "45:x:3", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTCPKeepAlive(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseTCPKeepAlive(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseTCPKeepAlive(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseTCPKeepAlive(%q)=%+v want %+v", tt.in, got, tt.want)
		}
	}
}

func TestWithProxyExcluded(t *testing.T) {
	t.Parallel()

	excl, err := firewall.ParseExclusions(defaultExclude)
	if err != nil {
		t.Fatal(err)
	}

	// Already covered by 127.0.0.0/8.
	if got := withProxyExcluded(excl, netip.MustParseAddr("127.0.0.1")); len(got) != len(excl) {
		t.Fatalf("loopback proxy added again: %v", got)
	}

	got := withProxyExcluded(excl, netip.MustParseAddr("203.0.113.5"))
	if len(got) != len(excl)+1 || got[len(got)-1] != netip.MustParsePrefix("203.0.113.5/32") {
		t.Fatalf("proxy not excluded: %v", got)
	}
}

func TestParseUIDs(t *testing.T) {
	t.Parallel()

	got, err := parseUIDs([]uint{0, 13, 65534})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1] != 13 || got[2] != 65534 {
		t.Fatalf("got %v", got)
	}
}
