package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/proxy"

	"github.com/die-net/socksgate/internal/socks"
)

// SOCKSProxyDialer dials outbound TCP connections through a SOCKS4, SOCKS4A
// or SOCKS5 endpoint. Each DialContext opens its own connection to the
// endpoint; nothing is pooled.
type SOCKSProxyDialer struct {
	cfg     Config
	socks   socks.Config
	forward proxy.ContextDialer
}

var (
	_ Dialer              = (*SOCKSProxyDialer)(nil)
	_ proxy.Dialer        = (*SOCKSProxyDialer)(nil)
	_ proxy.ContextDialer = (*SOCKSProxyDialer)(nil)
)

// NewSOCKSProxyDialer constructs a dialer for the endpoint in sc. forward is
// used to reach the endpoint; if it does not implement proxy.ContextDialer,
// its Dial is called without context support.
func NewSOCKSProxyDialer(cfg Config, sc socks.Config, forward proxy.Dialer) *SOCKSProxyDialer {
	cd, ok := forward.(proxy.ContextDialer)
	if !ok {
		cd = contextlessDialer{forward}
	}
	return &SOCKSProxyDialer{cfg: cfg, socks: sc, forward: cd}
}

// SOCKSConfig returns the endpoint configuration.
func (f *SOCKSProxyDialer) SOCKSConfig() socks.Config {
	return f.socks
}

func (f *SOCKSProxyDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}

// DialContext establishes a connection to address through the SOCKS
// endpoint. The handshake completes before DialContext returns, with each
// round trip bounded by NegotiationTimeout.
func (f *SOCKSProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("%s proxy dial %s %s: unsupported network", f.socks.Variant, network, address)
	}

	target, err := socks.ParseTarget(address, 0)
	if err != nil {
		return nil, fmt.Errorf("%s proxy dial: %w", f.socks.Variant, err)
	}

	sess := socks.NewSession(f.socks, target)
	sess.StepTimeout = f.cfg.NegotiationTimeout

	conn, err := sess.Run(ctx, f.forward.DialContext)
	if err != nil {
		return nil, fmt.Errorf("%s proxy dial %s: %w", f.socks.Variant, address, err)
	}
	return conn, nil
}

type contextlessDialer struct {
	proxy.Dialer
}

func (d contextlessDialer) DialContext(_ context.Context, network, address string) (net.Conn, error) {
	return d.Dial(network, address)
}
