package socks5

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestClientDialToServer(t *testing.T) {
	tests := []struct {
		name   string
		dst    netip.AddrPort
		refuse bool
	}{
		{name: "success", dst: netip.MustParseAddrPort("93.184.216.34:443")},
		{name: "refused", dst: netip.MustParseAddrPort("10.0.0.5:80"), refuse: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			g := errgroup.Group{}
			g.Go(func() error {
				if err := ServerNegotiate(serverConn); err != nil {
					return err
				}

				req, err := ServerReadRequest(serverConn)
				if err != nil {
					return err
				}
				if req.Cmd != CmdConnect {
					return fmt.Errorf("unexpected command: %d", req.Cmd)
				}
				if req.Address() != tt.dst.String() {
					return fmt.Errorf("unexpected address: %s", req.Address())
				}

				if tt.refuse {
					WriteConnectionRefusedReply(serverConn)
					return nil
				}
				return WriteSuccessReply(serverConn, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345})
			})

			err := ClientDial(clientConn, tt.dst)
			if tt.refuse {
				if !errors.Is(err, ErrRejected) {
					t.Fatalf("expected ErrRejected, got %v", err)
				}
			} else if err != nil {
				t.Fatal(err)
			}
			if err := g.Wait(); err != nil {
				t.Fatal(err)
			}
		})
	}
}
