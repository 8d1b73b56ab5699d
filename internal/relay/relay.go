package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Copier moves the bytes. Nil selects NewBufferedCopier.
	Copier Copier

	// IdleTimeout ends the relay when neither direction has read anything
	// for this long. Zero means no timeout.
	IdleTimeout time.Duration

	// HalfCloseTimeout bounds how long the other direction may keep
	// running once one direction reached end of stream. Zero lets it run
	// until its own end of stream or error.
	HalfCloseTimeout time.Duration
}

// Result counts the bytes relayed in each direction.
type Result struct {
	// Sent went from the client to the upstream proxy.
	Sent int64
	// Received went from the upstream proxy to the client.
	Received int64
}

// RelayError reports an I/O failure in the middle of a relayed stream.
type RelayError struct {
	Direction string
	Err       error
}

func (e *RelayError) Error() string {
	return "relay " + e.Direction + ": " + e.Err.Error()
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// ErrIdleTimeout is wrapped by the RelayError returned when IdleTimeout
// expires.
var ErrIdleTimeout = errors.New("idle timeout")

// Relay copies client to upstream and upstream to client concurrently. When
// one direction reaches end of stream, the peer's write side is shut down
// and the other direction keeps running, bounded by HalfCloseTimeout if set.
// Connections that cannot half-close are closed outright instead. Any error
// closes both sockets, and both are always closed when Relay returns.
// Canceling ctx tears the relay down.
//
// End of stream, resets and broken pipes are normal terminations and are not
// reported as errors.
func Relay(ctx context.Context, client, upstream net.Conn, opts Options) (Result, error) {
	copier := opts.Copier
	if copier == nil {
		copier = NewBufferedCopier()
	}

	r := &relay{client: client, upstream: upstream, opts: opts}
	defer r.closeBoth()

	stop := context.AfterFunc(ctx, r.closeBoth)
	defer stop()

	var res Result
	g := errgroup.Group{}
	g.Go(func() error {
		n, err := copier.Copy(upstream, client, r.extend)
		res.Sent = n
		return r.finish("client->upstream", upstream, err)
	})
	g.Go(func() error {
		n, err := copier.Copy(client, upstream, r.extend)
		res.Received = n
		return r.finish("upstream->client", client, err)
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return res, err
}

type relay struct {
	client, upstream net.Conn
	opts             Options

	// mu orders idle deadline refreshes against the teardown deadline.
	mu        sync.Mutex
	closing   atomic.Bool
	closeOnce sync.Once
	drainOnce sync.Once
}

func (r *relay) closeBoth() {
	r.closeOnce.Do(func() {
		r.closing.Store(true)
		_ = r.client.Close()
		_ = r.upstream.Close()
	})
}

// extend pushes the idle deadline of both sockets forward, since traffic in
// either direction keeps the session alive.
func (r *relay) extend() {
	if r.opts.IdleTimeout <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing.Load() {
		return
	}
	dl := time.Now().Add(r.opts.IdleTimeout)
	_ = r.client.SetReadDeadline(dl)
	_ = r.upstream.SetReadDeadline(dl)
}

// drain bounds the remaining direction by HalfCloseTimeout, if set.
func (r *relay) drain() {
	if r.opts.HalfCloseTimeout <= 0 {
		return
	}
	r.drainOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closing.Store(true)
		dl := time.Now().Add(r.opts.HalfCloseTimeout)
		_ = r.client.SetDeadline(dl)
		_ = r.upstream.SetDeadline(dl)
	})
}

func (r *relay) finish(direction string, dst net.Conn, err error) error {
	if err != nil {
		tearingDown := r.closing.Load()
		r.closeBoth()
		if tearingDown || isBenign(err) {
			return nil
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			err = ErrIdleTimeout
		}
		return &RelayError{Direction: direction, Err: err}
	}

	if !closeWrite(dst) {
		r.closeBoth()
		return nil
	}
	r.drain()
	return nil
}

// closeWrite signals end of stream to c's peer, reporting whether it could.
func closeWrite(c net.Conn) bool {
	cw, ok := c.(interface{ CloseWrite() error })
	return ok && cw.CloseWrite() == nil
}

var benignErrors = []error{
	io.EOF,
	net.ErrClosed,
	syscall.EPIPE,
	syscall.ECONNRESET,
	syscall.ENOTCONN,
}

func isBenign(err error) bool {
	for _, e := range benignErrors {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
