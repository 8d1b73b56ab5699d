package testutil

import (
	"context"
	"net"
	"testing"
)

// TCPPair returns the two ends of a loopback TCP connection. Unlike
// net.Pipe, writes are buffered by the kernel and both ends are
// *net.TCPConn, so half-close and splice work. Both ends are closed when the
// test ends.
func TCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	ctx := context.Background()
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()

	d := net.Dialer{}
	client, err := d.DialContext(ctx, "tcp4", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	res := <-ch
	if res.err != nil {
		_ = client.Close()
		t.Fatal(res.err)
	}

	a, b := client.(*net.TCPConn), res.c.(*net.TCPConn)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}
