package proxy

import (
	"context"
	"fmt"
	"net"
)

// ListenTCP listens on addr for proxy clients.
func ListenTCP(network, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	return Listen(context.Background(), net.ListenConfig{}, network, addr, ka)
}

// Listen listens with lc, which may carry socket options, and applies ka to
// every accepted TCP connection.
func Listen(ctx context.Context, lc net.ListenConfig, network, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	return &KeepAliveListener{Listener: ln, KeepAliveConfig: ka}, nil
}

// KeepAliveListener sets KeepAliveConfig on each accepted *net.TCPConn.
type KeepAliveListener struct {
	net.Listener
	net.KeepAliveConfig
}

func (l *KeepAliveListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
	}
	return c, nil
}
