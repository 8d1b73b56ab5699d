package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/transproxy/internal/bridge"
	"github.com/die-net/transproxy/internal/dialer"
	"github.com/die-net/transproxy/internal/firewall"
	"github.com/die-net/transproxy/internal/metrics"
	"github.com/die-net/transproxy/internal/origdst"
	"github.com/die-net/transproxy/internal/proxy"
	"github.com/die-net/transproxy/internal/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var defaultExclude = []string{"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

func run() error {
	var (
		proxyAddr  = pflag.String("proxy", "127.0.0.1:3128", "Upstream HTTP proxy host:port. Host names are resolved once at startup.")
		intercepts = pflag.StringArray("intercept", []string{"80=http", "443=connect"}, "Intercepted port: PORT[:LISTENPORT]=connect|http|socks5 (repeatable)")
		listenHost = pflag.String("listen-host", "127.0.0.1", "Address the intercepting listeners bind to")

		firewallKind = pflag.String("firewall", "iptables", "Redirect rule backend: iptables | nftables | none")
		exclude      = pflag.StringSlice("exclude", defaultExclude, "Destination subnets never redirected. The proxy address is always added.")
		exemptUIDs   = pflag.UintSlice("exempt-uid", nil, "Socket owner UIDs whose traffic is never redirected, such as the upstream proxy's")

		nativeCopy        = pflag.Bool("native-copy", false, "Relay with splice(2) instead of user-space buffers where supported")
		dialTimeout       = pflag.Duration("dial-timeout", 0, "Timeout for connecting to the upstream proxy (0 = none)")
		negotiationTimout = pflag.Duration("negotiation-timeout", 0, "Timeout for the request head and upstream handshake (0 = none)")
		idleTimeout       = pflag.Duration("idle-timeout", 0, "Close relayed connections idle this long (0 = never)")
		halfCloseTimeout  = pflag.Duration("half-close-timeout", 0, "Keep relaying the other direction this long after one side finishes (0 = until it ends)")
		maxHeaderBytes    = pflag.Int("max-header-bytes", bridge.DefaultMaxHeaderBytes, "Maximum size of a request head or CONNECT response")
		maxConns          = pflag.Int("max-conns", 0, "Maximum concurrent connections per port (0 = unlimited)")
		acceptRate        = pflag.Float64("accept-rate", 0, "Maximum new connections per second per port (0 = unlimited)")
		connectRFC        = pflag.Bool("connect-rfc", false, "Send 'CONNECT host:port HTTP/1.1' with a Host header instead of the bare CONNECT line")
		proxyProtocol     = pflag.Int("proxy-protocol", 0, "Prepend a PROXY protocol header of this version (1 or 2) to upstream sessions (0 = off)")

		debugListen  = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		tcpKeepAlive = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		verbose      = pflag.Bool("verbose", false, "Enable per-connection error logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	if !origdst.IsSupported {
		return errors.New("transparent interception is not supported on this platform")
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	ports, err := proxy.ParseIntercepts(*intercepts)
	if err != nil {
		return fmt.Errorf("invalid --intercept: %w", err)
	}
	if len(ports) == 0 {
		return errors.New("no ports intercepted (set at least one --intercept)")
	}

	if *proxyProtocol < 0 || *proxyProtocol > 2 {
		return fmt.Errorf("invalid --proxy-protocol %d: want 0, 1 or 2", *proxyProtocol)
	}

	uids, err := parseUIDs(*exemptUIDs)
	if err != nil {
		return fmt.Errorf("invalid --exempt-uid: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second signal kills the process instead of waiting for connections.
	context.AfterFunc(ctx, stop)

	endpoint, err := resolveProxy(ctx, *proxyAddr, *dialTimeout)
	if err != nil {
		return fmt.Errorf("invalid --proxy: %w", err)
	}

	excl, err := firewall.ParseExclusions(*exclude)
	if err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}
	excl = withProxyExcluded(excl, endpoint.Addr())

	fw, err := firewall.New(*firewallKind, firewall.Config{Exclude: excl, ExemptUIDs: uids})
	if err != nil {
		return fmt.Errorf("invalid --firewall: %w", err)
	}

	copier := relay.NewBufferedCopier()
	if *nativeCopy {
		if !relay.NativeSupported {
			log.Print("native copy is not supported on this platform; using buffered copy")
		}
		copier = relay.NewNativeCopier()
	}

	cfg := proxy.Config{
		Upstream: dialer.NewUpstream(dialer.Config{DialTimeout: *dialTimeout, KeepAlive: ka}, endpoint),
		Bridge: bridge.Options{
			MaxHeaderBytes:     *maxHeaderBytes,
			NegotiationTimeout: *negotiationTimout,
			StrictConnect:      *connectRFC,
			ProxyProtocol:      *proxyProtocol,
		},
		Relay: relay.Options{
			Copier:           copier,
			IdleTimeout:      *idleTimeout,
			HalfCloseTimeout: *halfCloseTimeout,
		},
		MaxConns:   *maxConns,
		AcceptRate: *acceptRate,
		KeepAlive:  ka,
		Metrics:    metrics.NewPrometheus(prometheus.DefaultRegisterer),
		Verbose:    *verbose,
	}

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.Handler())

		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: cfg.KeepAlive}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Printf("debug listening on %s", *debugListen)
	}

	log.Printf("forwarding through proxy %s", endpoint)
	d := proxy.NewDispatcher(cfg, fw, *listenHost, ports)
	g.Go(func() error {
		return d.Run(ctx)
	})

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Print("shutting down")
	return err
}

func resolveProxy(ctx context.Context, hostport string, timeout time.Duration) (netip.AddrPort, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ap, err := dialer.ResolveEndpoint(ctx, hostport)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("%s: only IPv4 proxies are supported", hostport)
	}
	return ap, nil
}

// withProxyExcluded appends the proxy address to the exclusions unless
// they already cover it, so sessions to the proxy are never redirected.
func withProxyExcluded(excl []netip.Prefix, proxyIP netip.Addr) []netip.Prefix {
	for _, p := range excl {
		if p.Contains(proxyIP) {
			return excl
		}
	}
	return append(excl, netip.PrefixFrom(proxyIP, proxyIP.BitLen()))
}

func parseUIDs(in []uint) ([]uint32, error) {
	out := make([]uint32, 0, len(in))
	for _, u := range in {
		if u > math.MaxUint32 {
			return nil, fmt.Errorf("uid %d out of range", u)
		}
		out = append(out, uint32(u))
	}
	return out, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
