package tproxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/die-net/socksgate/internal/dialer"
	"github.com/die-net/socksgate/internal/proxy"
)

var errNoOriginalDst = errors.New("original destination unavailable")

// Server relays redirected connections through the SOCKS dialer.
type Server struct {
	ctx     context.Context
	Dialer  dialer.Dialer
	Verbose bool
}

func NewServer(ctx context.Context, cfg proxy.Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, Dialer: cfg.Dialer, Verbose: cfg.Verbose}
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := s.handle(c); err != nil && s.Verbose {
				log.Printf("tproxy: %s: %v", c.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) handle(conn net.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	dst, ok := OriginalDst(conn)
	if !ok {
		return errNoOriginalDst
	}

	up, err := s.Dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		return err
	}

	if err := proxy.CopyBidirectional(ctx, conn, up); err != nil {
		return fmt.Errorf("relay %s: %w", dst, err)
	}
	return nil
}
