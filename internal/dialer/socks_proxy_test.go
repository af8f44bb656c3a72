package dialer

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/txthinking/socks5"

	"github.com/die-net/socksgate/internal/socks"
	"github.com/die-net/socksgate/internal/testutil"
)

func socksConfigFor(t *testing.T, addr string, variant socks.Variant, user, pass string) socks.Config {
	t.Helper()

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return socks.Config{Host: host, Port: uint16(p), Variant: variant, Username: user, Password: pass}
}

func newTestDialer(t *testing.T, sc socks.Config) *SOCKSProxyDialer {
	t.Helper()

	cfg := Config{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second}
	direct, err := NewDirectDialer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return NewSOCKSProxyDialer(cfg, sc, direct)
}

func TestSOCKS5ProxyDialerDialSuccess(t *testing.T) {
	tests := []struct {
		name string
		user string
		pass string
	}{
		{name: "no_auth"},
		{name: "user_pass", user: "user", pass: "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = handleSOCKS5Connect(ctx, c, tt.user, tt.pass)
			})

			f := newTestDialer(t, socksConfigFor(t, upLn.Addr().String(), socks.VariantSOCKS5, tt.user, tt.pass))

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			waitUp()
		})
	}
}

func TestSOCKS4ProxyDialerDialSuccess(t *testing.T) {
	for _, variant := range []socks.Variant{socks.VariantSOCKS4, socks.VariantSOCKS4A} {
		t.Run(variant.String(), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			echoLn := testutil.StartEchoTCPServer(t, ctx)
			defer echoLn.Close()

			upLn, waitUp := testutil.StartSingleAcceptServer(t, ctx, func(c net.Conn) {
				_ = handleSOCKS4Connect(ctx, c)
			})

			f := newTestDialer(t, socksConfigFor(t, upLn.Addr().String(), variant, "", ""))

			conn, err := f.DialContext(ctx, "tcp", echoLn.Addr().String())
			if err != nil {
				t.Fatal(err)
			}

			testutil.AssertEcho(t, conn, conn, []byte("hello"))
			_ = conn.Close()

			waitUp()
		})
	}
}

func TestSOCKS5ProxyDialerDialContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	lc := net.ListenConfig{}
	upLn, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer upLn.Close()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		c, err := upLn.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		_, _ = io.Copy(io.Discard, c)
	}()

	f := newTestDialer(t, socksConfigFor(t, upLn.Addr().String(), socks.VariantSOCKS5, "", ""))

	_, err = f.DialContext(ctx, "tcp", "127.0.0.1:1")
	if err == nil {
		t.Fatalf("expected error")
	}

	_ = upLn.Close()
	<-acceptDone
}

func TestSOCKS5ProxyDialerDialFail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	up := testutil.StartSOCKS5Server(t, ctx, testutil.Refuse)

	f := newTestDialer(t, socksConfigFor(t, up.Addr().String(), socks.VariantSOCKS5, "", ""))

	_, err := f.DialContext(ctx, "tcp", "example.test:443")
	if !errors.Is(err, socks.ErrConnectionRefused) {
		t.Fatalf("got %v want %v", err, socks.ErrConnectionRefused)
	}

	var ce *socks.ConnectError
	if !errors.As(err, &ce) || ce.Code != socks5.RepConnectionRefused {
		t.Fatalf("got %v want connect error code 0x05", err)
	}

	if got := up.Targets(); len(got) != 1 || got[0] != "example.test:443" {
		t.Fatalf("targets %v", got)
	}
}

func TestSOCKSProxyDialerEndpointDown(t *testing.T) {
	f := newTestDialer(t, socksConfigFor(t, testutil.ClosedAddr(t), socks.VariantSOCKS5, "", ""))

	_, err := f.DialContext(context.Background(), "tcp", "example.test:443")
	var netErr *socks.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("got %v want *socks.NetworkError", err)
	}
}

func TestSOCKSProxyDialerRejectsBadInput(t *testing.T) {
	f := newTestDialer(t, socks.Config{Host: "127.0.0.1", Port: 1, Variant: socks.VariantSOCKS5})

	if _, err := f.DialContext(context.Background(), "udp", "example.test:53"); err == nil {
		t.Fatal("expected error for udp")
	}
	if _, err := f.DialContext(context.Background(), "tcp", "example.test"); err == nil {
		t.Fatal("expected error for missing port")
	}

	unsupported := newTestDialer(t, socks.Config{Host: "127.0.0.1", Port: 1, Variant: socks.VariantUnknown})
	if _, err := unsupported.DialContext(context.Background(), "tcp", "example.test:443"); !errors.Is(err, socks.ErrUnsupportedProxyType) {
		t.Fatalf("got %v want %v", err, socks.ErrUnsupportedProxyType)
	}
}

func handleSOCKS5Connect(ctx context.Context, c net.Conn, user, pass string) error {
	if _, err := socks5.NewNegotiationRequestFrom(c); err != nil {
		return err
	}

	if user == "" && pass == "" {
		if _, err := socks5.NewNegotiationReply(socks5.MethodNone).WriteTo(c); err != nil {
			return err
		}
	} else {
		if _, err := socks5.NewNegotiationReply(socks5.MethodUsernamePassword).WriteTo(c); err != nil {
			return err
		}

		urq, err := socks5.NewUserPassNegotiationRequestFrom(c)
		if err != nil {
			return err
		}
		if string(urq.Uname) != user || string(urq.Passwd) != pass {
			_, _ = socks5.NewUserPassNegotiationReply(socks5.UserPassStatusFailure).WriteTo(c)
			return nil
		}
		if _, err := socks5.NewUserPassNegotiationReply(socks5.UserPassStatusSuccess).WriteTo(c); err != nil {
			return err
		}
	}

	req, err := socks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect || req.Atyp != socks5.ATYPDomain {
		_, _ = socks5.NewReply(socks5.RepCommandNotSupported, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", req.Address())
	if err != nil {
		_, _ = socks5.NewReply(socks5.RepHostUnreachable, socks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(c)
		return nil
	}
	defer dst.Close()

	a, addr, port, err := socks5.ParseAddress(dst.LocalAddr().String())
	if err != nil {
		return err
	}
	if a == socks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := socks5.NewReply(socks5.RepSuccess, a, addr, port).WriteTo(c); err != nil {
		return err
	}

	pipe(c, dst)
	return nil
}

// handleSOCKS4Connect reads a CONNECT whose host name follows the empty user
// id, as both socks4 and socks4a variants send it.
func handleSOCKS4Connect(ctx context.Context, c net.Conn) error {
	hdr := make([]byte, 9)
	if _, err := io.ReadFull(c, hdr); err != nil {
		return err
	}
	if hdr[0] != 0x04 || hdr[1] != 0x01 || hdr[8] != 0x00 {
		_, _ = c.Write([]byte{0x00, 0x5b, 0, 0, 0, 0, 0, 0})
		return nil
	}
	port := int(hdr[2])<<8 | int(hdr[3])

	var host []byte
	b := make([]byte, 1)
	for {
		if _, err := io.ReadFull(c, b); err != nil {
			return err
		}
		if b[0] == 0x00 {
			break
		}
		host = append(host, b[0])
	}

	d := net.Dialer{}
	dst, err := d.DialContext(ctx, "tcp", net.JoinHostPort(string(host), strconv.Itoa(port)))
	if err != nil {
		_, _ = c.Write([]byte{0x00, 0x5b, 0, 0, 0, 0, 0, 0})
		return nil
	}
	defer dst.Close()

	if _, err := c.Write([]byte{0x00, 0x5a, 0, 0, 0, 0, 0, 0}); err != nil {
		return err
	}

	pipe(c, dst)
	return nil
}

func pipe(c, dst net.Conn) {
	go func() {
		_, _ = io.Copy(dst, c)
		_ = dst.Close()
	}()
	_, _ = io.Copy(c, dst)
}
