package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/die-net/transproxy/internal/bridge"
	"github.com/die-net/transproxy/internal/testutil"
)

type fakeFirewall struct {
	failPort uint16
	// gate, if set, holds the failing install until it is closed.
	gate chan struct{}

	active  atomic.Int32
	overlap atomic.Bool

	mu       sync.Mutex
	installs []string
	flushes  int
}

func (f *fakeFirewall) Install(_ context.Context, port, toPort uint16) error {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	time.Sleep(10 * time.Millisecond)

	if port == f.failPort {
		if f.gate != nil {
			<-f.gate
		}
		return errors.New("iptables: exit status 4")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs = append(f.installs, fmt.Sprintf("%d->%d", port, toPort))
	return nil
}

func (f *fakeFirewall) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeFirewall) state() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	installs := slices.Clone(f.installs)
	slices.Sort(installs)
	return installs, f.flushes
}

func dialRetry(t *testing.T, port uint16) net.Conn {
	t.Helper()

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	deadline := time.Now().Add(5 * time.Second)
	for {
		c, err := net.DialTimeout("tcp4", addr, time.Second)
		if err == nil {
			t.Cleanup(func() { _ = c.Close() })
			_ = c.SetDeadline(time.Now().Add(5 * time.Second))
			return c
		}
		if time.Now().After(deadline) {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDispatcherRunAndShutdown(t *testing.T) {
	t.Parallel()

	up := testutil.StartConnectProxy(t, context.Background())
	cfg := Config{Upstream: upstreamFor(t, up), Resolve: fixedResolver("93.184.216.34:443")}

	httpsPort, otherPort := testutil.FreePort(t), testutil.FreePort(t)
	intercepts := []Intercept{
		{Port: 443, ListenPort: httpsPort, Dialect: bridge.Connect},
		{Port: 8443, ListenPort: otherPort, Dialect: bridge.Connect},
	}
	fw := &fakeFirewall{}
	d := NewDispatcher(cfg, fw, "127.0.0.1", intercepts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	var conns []net.Conn
	for _, port := range []uint16{httpsPort, otherPort} {
		c := dialRetry(t, port)
		br := bufio.NewReader(c)
		if got := readLine(t, br); got != "93.184.216.34:443" {
			t.Fatalf("port %d: proxy saw target %q", port, got)
		}
		testutil.AssertEcho(t, c, br, []byte("hello"))
		conns = append(conns, c)
	}
	_ = conns[0].Close()
	inFlight := conns[1]

	installs, _ := fw.state()
	want := []string{
		fmt.Sprintf("443->%d", httpsPort),
		fmt.Sprintf("8443->%d", otherPort),
	}
	slices.Sort(want)
	if !slices.Equal(installs, want) {
		t.Fatalf("installs %q want %q", installs, want)
	}
	if fw.overlap.Load() {
		t.Fatal("firewall installs overlapped")
	}

	cancel()

	// Rules are flushed and listeners closed while a connection is still
	// open; Run returns once it finishes.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, flushes := fw.state(); flushes == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("firewall not flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case err := <-done:
		t.Fatalf("Run returned with a connection in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if c, err := net.DialTimeout("tcp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(httpsPort))), time.Second); err == nil {
		_ = c.Close()
		t.Fatal("listener still accepting after shutdown")
	}

	testutil.AssertEcho(t, inFlight, inFlight, []byte("still relaying"))
	_ = inFlight.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if _, flushes := fw.state(); flushes != 1 {
		t.Fatalf("flushed %d times", flushes)
	}
}

func TestDispatcherStartupFailure(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()
	busyPort := uint16(occupied.Addr().(*net.TCPAddr).Port)

	tests := []struct {
		name     string
		failPort uint16
		second   Intercept
		wantErr  string
	}{
		{
			name:     "install",
			failPort: 8080,
			second:   Intercept{Port: 8080, ListenPort: testutil.FreePort(t), Dialect: bridge.HTTP},
			wantErr:  "port 8080: install redirect",
		},
		{
			name:    "listen",
			second:  Intercept{Port: 8080, ListenPort: busyPort, Dialect: bridge.HTTP},
			wantErr: "port 8080: listen",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			up := testutil.StartHTTPProxy(t, context.Background())
			cfg := Config{Upstream: upstreamFor(t, up), Resolve: fixedResolver("93.184.216.34:80")}
			intercepts := []Intercept{
				{Port: 80, ListenPort: testutil.FreePort(t), Dialect: bridge.HTTP},
				tt.second,
			}
			fw := &fakeFirewall{failPort: tt.failPort}

			done := make(chan error, 1)
			go func() {
				done <- NewDispatcher(cfg, fw, "127.0.0.1", intercepts).Run(context.Background())
			}()

			select {
			case err := <-done:
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("got %v want %q", err, tt.wantErr)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not stop after a startup failure")
			}
			if _, flushes := fw.state(); flushes != 1 {
				t.Fatalf("flushed %d times", flushes)
			}
		})
	}
}

func TestDispatcherStartupFailureSkipsConnectionWait(t *testing.T) {
	t.Parallel()

	up := testutil.StartConnectProxy(t, context.Background())
	cfg := Config{Upstream: upstreamFor(t, up), Resolve: fixedResolver("93.184.216.34:443")}

	firstPort := testutil.FreePort(t)
	intercepts := []Intercept{
		{Port: 443, ListenPort: firstPort, Dialect: bridge.Connect},
		{Port: 8443, ListenPort: testutil.FreePort(t), Dialect: bridge.Connect},
	}
	fw := &fakeFirewall{failPort: 8443, gate: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		done <- NewDispatcher(cfg, fw, "127.0.0.1", intercepts).Run(context.Background())
	}()

	// The first port is serving while the second is still being installed.
	c := dialRetry(t, firstPort)
	br := bufio.NewReader(c)
	if got := readLine(t, br); got != "93.184.216.34:443" {
		t.Fatalf("proxy saw target %q", got)
	}
	testutil.AssertEcho(t, c, br, []byte("hello"))

	close(fw.gate)

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "port 8443: install redirect") {
			t.Fatalf("got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run waited for an open connection after a startup failure")
	}
	if _, flushes := fw.state(); flushes != 1 {
		t.Fatalf("flushed %d times", flushes)
	}
}
