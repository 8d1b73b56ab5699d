package dialer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/die-net/transproxy/internal/testutil"
)

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    netip.AddrPort
		wantErr bool
	}{
		{name: "ipv4", in: "127.0.0.1:3128", want: netip.MustParseAddrPort("127.0.0.1:3128")},
		{name: "ipv6", in: "[::1]:3128", want: netip.MustParseAddrPort("[::1]:3128")},
		{name: "localhost", in: "localhost:8080"},
		{name: "missing port", in: "127.0.0.1", wantErr: true},
		{name: "zero port", in: "127.0.0.1:0", wantErr: true},
		{name: "bad port", in: "127.0.0.1:http", wantErr: true},
		{name: "port out of range", in: "127.0.0.1:70000", wantErr: true},
		{name: "missing host", in: ":3128", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveEndpoint(context.Background(), tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.want.IsValid() && got != tt.want {
				t.Fatalf("got %s want %s", got, tt.want)
			}
			if !got.Addr().IsLoopback() {
				t.Fatalf("expected loopback, got %s", got)
			}
		})
	}
}

func TestUpstreamDial(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	ep := echoLn.Addr().(*net.TCPAddr).AddrPort()
	u := NewUpstream(Config{DialTimeout: 2 * time.Second}, ep)
	if u.Endpoint() != ep {
		t.Fatalf("endpoint %s want %s", u.Endpoint(), ep)
	}

	c, err := u.Dial(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestUpstreamDialRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Grab a free port, then release it so nothing is listening.
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ep := ln.Addr().(*net.TCPAddr).AddrPort()
	_ = ln.Close()

	u := NewUpstream(Config{DialTimeout: 2 * time.Second}, ep)
	_, err = u.Dial(ctx)
	var de *DialError
	if !errors.As(err, &de) {
		t.Fatalf("expected DialError, got %v", err)
	}
	if de.Addr != ep.String() {
		t.Fatalf("addr %q want %q", de.Addr, ep)
	}
}
