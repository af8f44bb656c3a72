package proxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"

	"github.com/die-net/socksgate/internal/socks"
)

const (
	connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"
	connectFailed      = "HTTP/1.1 500 Connection Error\r\n\r\n"
)

// handleConnect opens a tunnel to the CONNECT target. Bytes the client sent
// after the CONNECT head, still buffered in br, are delivered first. There
// is no fallback for CONNECT.
func (s *HTTPProxyServer) handleConnect(ctx context.Context, conn net.Conn, br *bufio.Reader, req *request) error {
	target, err := socks.ParseTarget(req.Target, 443)
	if err != nil {
		_, _ = io.WriteString(conn, connectFailed)
		return err
	}

	up, err := s.dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		_, _ = io.WriteString(conn, connectFailed)
		return err
	}

	if _, err := io.WriteString(conn, connectEstablished); err != nil {
		_ = up.Close()
		return fmt.Errorf("write connect reply: %w", err)
	}

	if n := br.Buffered(); n > 0 {
		early, _ := br.Peek(n)
		if _, err := up.Write(early); err != nil {
			_ = up.Close()
			return fmt.Errorf("forward early data: %w", err)
		}
		_, _ = br.Discard(n)
	}

	if err := CopyBidirectional(ctx, conn, up); err != nil {
		return fmt.Errorf("tunnel %s: %w", target, err)
	}
	return nil
}
