package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
)

// StartConnectProxy starts a fake upstream proxy that accepts the minimal
// "CONNECT host:port" line, answers 200, writes the requested target back as
// a line of its own and then echoes.
func StartConnectProxy(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	return StartServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		target, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "CONNECT ")
		if !ok {
			_, _ = io.WriteString(c, "HTTP/1.1 400 Bad Request\r\n\r\n")
			return
		}
		if _, err := io.WriteString(c, "HTTP/1.1 200 Connection established\r\n\r\n"+target+"\n"); err != nil {
			return
		}
		_, _ = io.Copy(struct{ io.Writer }{c}, br)
	})
}

// StartHTTPProxy starts a fake upstream HTTP proxy that answers each request
// with its request line as the body, then closes.
func StartHTTPProxy(t *testing.T, ctx context.Context) net.Listener {
	t.Helper()

	return StartServer(t, ctx, func(c net.Conn) {
		br := bufio.NewReader(c)
		requestLine, err := br.ReadString('\n')
		if err != nil {
			return
		}
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			if line == "\r\n" || line == "\n" {
				break
			}
		}
		body := strings.TrimRight(requestLine, "\r\n")
		_, _ = io.WriteString(c, "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)
	})
}

// FreePort returns a loopback TCP port that was free a moment ago.
func FreePort(t *testing.T) uint16 {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}
