package socks

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Variant selects the handshake sub-protocol spoken to the SOCKS endpoint.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantSOCKS4
	VariantSOCKS4A
	VariantSOCKS5
)

func (v Variant) String() string {
	switch v {
	case VariantSOCKS4:
		return "socks4"
	case VariantSOCKS4A:
		return "socks4a"
	case VariantSOCKS5:
		return "socks5"
	default:
		return "unknown(" + strconv.Itoa(int(v)) + ")"
	}
}

// Supported reports whether v names a handshake this package implements.
func (v Variant) Supported() bool {
	switch v {
	case VariantSOCKS4, VariantSOCKS4A, VariantSOCKS5:
		return true
	default:
		return false
	}
}

// ParseVariant maps a URL scheme to a Variant. "socks5h" is accepted as an
// alias of "socks5" since SOCKS5 targets are always sent as domain names.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(s) {
	case "socks4":
		return VariantSOCKS4, nil
	case "socks4a":
		return VariantSOCKS4A, nil
	case "socks5", "socks5h":
		return VariantSOCKS5, nil
	default:
		return VariantUnknown, fmt.Errorf("%w: %q", ErrUnsupportedProxyType, s)
	}
}

// Config describes the SOCKS endpoint. It is built once and shared read-only
// by every session.
type Config struct {
	Host    string
	Port    uint16
	Variant Variant

	// Username and Password are only used by SOCKS5, and only when both are
	// set.
	Username string
	Password string
}

// Endpoint returns the host:port of the SOCKS endpoint.
func (c Config) Endpoint() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func (c Config) hasCredentials() bool {
	return c.Username != "" && c.Password != ""
}
