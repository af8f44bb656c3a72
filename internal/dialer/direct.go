package dialer

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// DirectDialer dials without any proxy.
type DirectDialer struct {
	cfg Config
}

var _ proxy.ContextDialer = (*DirectDialer)(nil)

// NewDirectDialer returns a dialer that connects without any proxy. It is
// used to reach the SOCKS endpoint.
func NewDirectDialer(cfg Config) (*DirectDialer, error) {
	if cfg.DialTimeout < 0 {
		return nil, fmt.Errorf("direct dialer: negative dial timeout %s", cfg.DialTimeout)
	}
	return &DirectDialer{cfg: cfg}, nil
}

func (f *DirectDialer) Dial(network, address string) (net.Conn, error) {
	return f.DialContext(context.Background(), network, address)
}

func (f *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	dd := net.Dialer{Timeout: f.cfg.DialTimeout}

	conn, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(f.cfg.KeepAlive)
	}

	return conn, nil
}
