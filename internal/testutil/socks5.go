package testutil

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/txthinking/socks5"
)

// SOCKS5Handler decides the reply for a CONNECT to target. If rep is
// socks5.RepSuccess and serve is non-nil, serve runs on the connection after
// the reply, standing in for the destination.
type SOCKS5Handler func(target string) (rep byte, serve func(net.Conn))

// SOCKS5Server is a scripted no-auth SOCKS5 endpoint for tests.
type SOCKS5Server struct {
	net.Listener

	handler SOCKS5Handler

	mu      sync.Mutex
	targets []string
	wg      sync.WaitGroup
}

// StartSOCKS5Server starts a SOCKS5Server. It is closed when the test ends.
func StartSOCKS5Server(t *testing.T, ctx context.Context, handler SOCKS5Handler) *SOCKS5Server {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := &SOCKS5Server{Listener: ln, handler: handler}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Close stops accepting and waits for in-flight connections.
func (s *SOCKS5Server) Close() {
	_ = s.Listener.Close()
	s.wg.Wait()
}

// Targets returns the CONNECT targets requested so far, in order.
func (s *SOCKS5Server) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

func (s *SOCKS5Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.Close()
			s.handle(c)
		}()
	}
}

func (s *SOCKS5Server) handle(c net.Conn) {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return
	}
	if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
		return
	}
	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return
	}

	target := req.Address()
	s.mu.Lock()
	s.targets = append(s.targets, target)
	s.mu.Unlock()

	rep, serve := s.handler(target)
	if req.Cmd != socks5.CmdConnect {
		rep = socks5.RepCommandNotSupported
	}
	if _, err := socks5.NewReply(rep, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c); err != nil {
		return
	}
	if rep == socks5.RepSuccess && serve != nil {
		serve(c)
	}
}

// Refuse answers every CONNECT with "connection refused".
func Refuse(string) (byte, func(net.Conn)) {
	return socks5.RepConnectionRefused, nil
}

// Echo accepts every CONNECT and echoes the tunneled bytes.
func Echo(string) (byte, func(net.Conn)) {
	return socks5.RepSuccess, func(c net.Conn) {
		_, _ = io.Copy(c, c)
	}
}
