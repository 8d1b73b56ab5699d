package proxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/transproxy/internal/firewall"
)

const flushTimeout = 10 * time.Second

var errStopped = errors.New("stopped before listening")

// Dispatcher runs one Server per intercepted port.
type Dispatcher struct {
	cfg        Config
	fw         firewall.Firewall
	listenHost string
	intercepts []Intercept

	// mu serializes firewall installation and guards servers.
	mu      sync.Mutex
	servers []*Server
}

func NewDispatcher(cfg Config, fw firewall.Firewall, listenHost string, intercepts []Intercept) *Dispatcher {
	return &Dispatcher{cfg: cfg, fw: fw, listenHost: listenHost, intercepts: intercepts}
}

// Run installs the redirect and starts the listener for each port in turn,
// then serves until ctx is done. Failing to install a rule, bind a listener
// or accept stops every port. Either way the firewall is flushed. After a
// clean shutdown Run then waits for in-flight connections to finish on
// their own; after a failure it returns without waiting.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	err := d.startAll(gctx, g)
	if err != nil {
		cancel()
	}
	if werr := g.Wait(); err == nil {
		err = werr
	}

	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer fcancel()
	if ferr := d.fw.Flush(fctx); ferr != nil {
		err = errors.Join(err, fmt.Errorf("flush firewall: %w", ferr))
	}
	if err != nil {
		return err
	}

	d.mu.Lock()
	servers := d.servers
	d.mu.Unlock()
	for _, s := range servers {
		s.Wait()
	}
	return nil
}

func (d *Dispatcher) startAll(ctx context.Context, g *errgroup.Group) error {
	for _, in := range d.intercepts {
		ln, srv, err := d.start(ctx, in)
		if errors.Is(err, errStopped) {
			return nil
		}
		if err != nil {
			return err
		}
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})
		log.Printf("port %d: %s listening on %s", in.Port, in.Dialect, ln.Addr())

		g.Go(func() error {
			if err := srv.Serve(ctx, ln); err != nil {
				return fmt.Errorf("port %d: %w", in.Port, err)
			}
			return nil
		})
	}
	return nil
}

func (d *Dispatcher) start(ctx context.Context, in Intercept) (net.Listener, *Server, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Another port failed, or shutdown began, before this one started.
	if ctx.Err() != nil {
		return nil, nil, errStopped
	}

	if err := d.fw.Install(ctx, in.Port, in.ListenPort); err != nil {
		return nil, nil, fmt.Errorf("port %d: install redirect: %w", in.Port, err)
	}

	addr := net.JoinHostPort(d.listenHost, strconv.Itoa(int(in.ListenPort)))
	ln, err := ListenTCP(ctx, "tcp4", addr, d.cfg.KeepAlive)
	if err != nil {
		return nil, nil, fmt.Errorf("port %d: %w", in.Port, err)
	}

	srv := NewServer(d.cfg, in)
	d.servers = append(d.servers, srv)
	return ln, srv, nil
}
