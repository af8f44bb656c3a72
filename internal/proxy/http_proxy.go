package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/die-net/socksgate/internal/dialer"
)

// HTTPProxyServer serves an HTTP forward proxy whose outbound connections
// all go through a SOCKS upstream.
//
// It supports:
// - HTTP CONNECT tunneling (reply, then bidirectional copy)
// - non-CONNECT forwarding of a single request per client connection
type HTTPProxyServer struct {
	ctx    context.Context
	cfg    Config
	dialer dialer.Dialer

	mu        sync.Mutex
	closed    bool
	listeners map[net.Listener]struct{}
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

// NewHTTPProxyServer constructs an HTTP proxy server with the given config.
//
// Serve starts accepting connections on a listener; Close stops all
// listeners and open connections.
func NewHTTPProxyServer(ctx context.Context, cfg Config) *HTTPProxyServer {
	if ctx == nil {
		ctx = context.Background()
	}
	return &HTTPProxyServer{
		ctx:       ctx,
		cfg:       cfg,
		dialer:    cfg.Dialer,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve serves HTTP proxy requests on ln. It returns http.ErrServerClosed
// after Close.
func (s *HTTPProxyServer) Serve(ln net.Listener) error {
	if !s.track(ln) {
		_ = ln.Close()
		return http.ErrServerClosed
	}
	defer s.untrack(ln)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return http.ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return err
		}

		if !s.trackConn(conn) {
			_ = conn.Close()
			return http.ErrServerClosed
		}
		go func() {
			defer s.wg.Done()
			defer s.untrackConn(conn)
			s.serveConn(conn)
		}()
	}
}

// Close stops all listeners, closes open connections and waits for their
// handlers to return.
func (s *HTTPProxyServer) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// serveConn reads request heads from conn until it closes. Plain requests
// may follow each other on a persistent connection; a CONNECT tunnel takes
// the connection over.
func (s *HTTPProxyServer) serveConn(conn net.Conn) {
	defer conn.Close()

	br := bufio.NewReader(conn)

	for first := true; ; first = false {
		if s.cfg.NegotiationTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
		}
		req, err := readRequest(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			var ne net.Error
			if !first && errors.As(err, &ne) && ne.Timeout() && br.Buffered() == 0 {
				// Idle persistent connection.
				return
			}
			s.logf(conn, "read request: %v", err)
			_, _ = writeError(conn, err, http.StatusBadRequest)
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		if strings.EqualFold(req.Method, http.MethodConnect) {
			if err := s.handleConnect(s.ctx, conn, br, req); err != nil {
				s.logf(conn, "%s %s: %v", req.Method, req.Target, err)
			}
			return
		}

		more, err := s.handleForward(s.ctx, conn, br, req)
		if err != nil {
			s.logf(conn, "%s %s: %v", req.Method, req.Target, err)
		}
		if !more {
			return
		}
	}
}

// writeError simulates http.Error() for use on a raw client connection.
func writeError(w io.Writer, err error, code int) (int, error) {
	return fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\n%s\r\n", code, http.StatusText(code), err.Error())
}

func (s *HTTPProxyServer) logf(conn net.Conn, format string, args ...any) {
	if !s.cfg.Verbose {
		return
	}
	log.Printf("http proxy: %s: %s", conn.RemoteAddr(), fmt.Sprintf(format, args...))
}

func (s *HTTPProxyServer) track(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *HTTPProxyServer) untrack(ln net.Listener) {
	s.mu.Lock()
	delete(s.listeners, ln)
	s.mu.Unlock()
}

func (s *HTTPProxyServer) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *HTTPProxyServer) untrackConn(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *HTTPProxyServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
