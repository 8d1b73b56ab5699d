//go:build linux

package relay

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/die-net/transproxy/internal/testutil"
)

func TestSpliceCopierDirect(t *testing.T) {
	t.Parallel()

	if _, ok := NewNativeCopier().(*spliceCopier); !ok {
		t.Fatal("expected splice copier on linux")
	}

	srcPeer, src := testutil.TCPPair(t)
	dst, dstPeer := testutil.TCPPair(t)

	// More than one pipe's worth, so the splice loop runs several times.
	payload := bytes.Repeat([]byte("0123456789abcdef"), 3*maxSpliceSize/16+5)
	go func() {
		_, _ = srcPeer.Write(payload)
		_ = srcPeer.CloseWrite()
	}()

	type result struct {
		got []byte
		err error
	}
	read := make(chan result, 1)
	go func() {
		_ = dstPeer.SetReadDeadline(time.Now().Add(5 * time.Second))
		got, err := io.ReadAll(dstPeer)
		read <- result{got, err}
	}()

	reads := 0
	n, err := NewNativeCopier().Copy(NewConn(dst), NewConn(src), func() { reads++ })
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("copied %d want %d", n, len(payload))
	}
	if reads < 2 {
		t.Fatalf("beforeRead called %d times", reads)
	}

	_ = dst.CloseWrite()
	r := <-read
	if r.err != nil {
		t.Fatal(r.err)
	}
	if !bytes.Equal(r.got, payload) {
		t.Fatalf("payload mismatch: got %d bytes", len(r.got))
	}
}
