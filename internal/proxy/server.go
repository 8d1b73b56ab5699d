package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/die-net/transproxy/internal/bridge"
	"github.com/die-net/transproxy/internal/dialer"
	"github.com/die-net/transproxy/internal/origdst"
	"github.com/die-net/transproxy/internal/relay"
)

// Server accepts the connections redirected to one intercepted port.
type Server struct {
	cfg       Config
	intercept Intercept

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	wg sync.WaitGroup
}

func NewServer(cfg Config, in Intercept) *Server {
	s := &Server{cfg: cfg, intercept: in}
	if cfg.MaxConns > 0 {
		s.sem = semaphore.NewWeighted(int64(cfg.MaxConns))
	}
	if cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), max(1, int(math.Ceil(cfg.AcceptRate))))
	}
	return s
}

// connJob is everything one connection's goroutine owns.
type connJob struct {
	conn    net.Conn
	port    uint16
	dialect bridge.Dialect
}

// Serve accepts on ln until ln is closed or ctx is done, which are clean
// stops and return nil. Connections already accepted keep running after
// Serve returns; Wait blocks until they finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// Connections run to completion even when the listener stops.
	connCtx := context.WithoutCancel(ctx)

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		c, err := ln.Accept()
		if err != nil {
			s.release()
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if !isTemporary(err) {
				return fmt.Errorf("accept: %w", err)
			}

			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			log.Printf("port %d: accept error: %v; retrying in %v", s.intercept.Port, err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go s.run(connCtx, connJob{conn: c, port: s.intercept.Port, dialect: s.intercept.Dialect})
	}
}

// Wait blocks until every accepted connection has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}

func (s *Server) run(ctx context.Context, job connJob) {
	defer s.wg.Done()
	defer s.release()

	m := s.cfg.metrics()
	m.AddConnection(job.port, job.dialect.String())
	defer m.RemoveConnection(job.port)

	if err := s.handle(ctx, job); err != nil {
		m.AddError(errorKind(err))
		if s.cfg.Verbose {
			log.Printf("port %d: %s: %v", job.port, job.conn.RemoteAddr(), err)
		}
	}
}

func (s *Server) handle(ctx context.Context, job connJob) error {
	client := relay.NewConn(job.conn)
	defer client.Close()

	start := time.Now()

	dst, err := s.cfg.resolver()(job.conn)
	if err != nil {
		return err
	}

	up, err := s.cfg.Upstream.Dial(ctx)
	if err != nil {
		return err
	}
	upstream := relay.NewConn(up)
	defer upstream.Close()

	sess := bridge.Session{
		Client:      client,
		Upstream:    upstream,
		Source:      addrPort(job.conn.RemoteAddr()),
		Destination: dst,
	}
	if err := bridge.Handshake(ctx, job.dialect, sess, s.cfg.Bridge); err != nil {
		return fmt.Errorf("%s %s: %w", job.dialect, dst, err)
	}

	m := s.cfg.metrics()
	m.ObserveHandshake(time.Since(start).Seconds())

	res, err := relay.Relay(ctx, client, upstream, s.cfg.Relay)
	m.AddRelayedBytes(res.Sent, res.Received)
	if err != nil {
		return fmt.Errorf("%s %s: %w", job.dialect, dst, err)
	}
	return nil
}

func addrPort(a net.Addr) netip.AddrPort {
	ta, ok := a.(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := ta.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// errorKind labels a connection failure for metrics.
func errorKind(err error) string {
	var (
		resolveErr   *origdst.ResolutionError
		dialErr      *dialer.DialError
		parseErr     *bridge.ParseError
		handshakeErr *bridge.HandshakeError
		relayErr     *relay.RelayError
	)
	switch {
	case errors.As(err, &resolveErr):
		return "resolve"
	case errors.As(err, &dialErr):
		return "dial"
	case errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &handshakeErr):
		return "handshake"
	case errors.As(err, &relayErr):
		return "relay"
	default:
		return "other"
	}
}

// isTemporary reports accept errors that clear up on their own, such as
// running out of file descriptors.
func isTemporary(err error) bool {
	for _, e := range []error{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.ECONNABORTED} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
