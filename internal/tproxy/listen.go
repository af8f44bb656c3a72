//go:build linux || freebsd || openbsd

package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/die-net/socksgate/internal/proxy"
)

// IsSupported is true on TPROXY-supporting OSes.
const IsSupported = true

// ListenTransparentTCP listens on addr with the platform's transparent
// socket option set, and applies keepAliveConfig to accepted connections.
//
// This requires root or an equivalent privilege. Callers still need firewall
// rules that redirect traffic to the listener.
func ListenTransparentTCP(addr string, keepAliveConfig net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(network, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = setTransparent(network, int(fd))
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := proxy.Listen(context.Background(), lc, "tcp", addr, keepAliveConfig)
	if err != nil {
		return nil, fmt.Errorf("tproxy: %w", err)
	}
	return ln, nil
}

// localDst returns the accepted socket's local address, which is the
// original destination for rules that preserve it.
func localDst(c net.Conn) (*net.TCPAddr, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, false
	}
	addr, ok := tc.LocalAddr().(*net.TCPAddr)
	return addr, ok
}
