package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/socksgate/internal/socks"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// New parses upstream and constructs a SOCKS dialer for it.
//
// Supported schemes:
//   - socks4://host:port
//   - socks4a://host:port
//   - socks5://[user:pass@]host:port (socks5h is an alias)
//
// Port 1080 is used if the URL host is missing a port.
func New(cfg Config, upstream string) (*SOCKSProxyDialer, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	sc, err := socksConfigFromURL(u)
	if err != nil {
		return nil, err
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return NewSOCKSProxyDialer(cfg, sc, direct), nil
}

func socksConfigFromURL(u *url.URL) (socks.Config, error) {
	if u.Scheme == "" {
		return socks.Config{}, errors.New("invalid url: missing scheme")
	}
	variant, err := socks.ParseVariant(u.Scheme)
	if err != nil {
		return socks.Config{}, fmt.Errorf("invalid url scheme: %w", err)
	}
	if u.Path != "" && u.Path != "/" {
		return socks.Config{}, errors.New("invalid url: path should be empty")
	}

	host := u.Hostname()
	if host == "" {
		return socks.Config{}, errors.New("invalid url: missing host")
	}

	port := uint16(1080)
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return socks.Config{}, fmt.Errorf("invalid url: bad port %q", p)
		}
		port = uint16(n)
	}

	sc := socks.Config{Host: host, Port: port, Variant: variant}
	if u.User != nil {
		if variant != socks.VariantSOCKS5 {
			return socks.Config{}, fmt.Errorf("invalid url: %s does not support credentials", strings.ToLower(u.Scheme))
		}
		sc.Username = u.User.Username()
		sc.Password, _ = u.User.Password()
	}
	return sc, nil
}
