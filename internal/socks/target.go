package socks

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Target is the destination the SOCKS endpoint is asked to connect to.
//
// Host may be a domain name or an IP literal; it is always sent in domain
// form so that resolution happens at the SOCKS endpoint.
type Target struct {
	Host string
	Port uint16
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(int(t.Port)))
}

// ParseTarget splits a host:port address. If address has no port, or an
// empty one, defaultPort is used.
func ParseTarget(address string, defaultPort uint16) (Target, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		var addrErr *net.AddrError
		if !errors.As(err, &addrErr) || addrErr.Err != "missing port in address" {
			return Target{}, fmt.Errorf("parse target %q: %w", address, err)
		}
		host, port = strings.TrimSuffix(strings.TrimPrefix(address, "["), "]"), strconv.Itoa(int(defaultPort))
	}
	if port == "" {
		port = strconv.Itoa(int(defaultPort))
	}
	if host == "" {
		return Target{}, fmt.Errorf("parse target %q: missing host", address)
	}

	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil || p == 0 {
		return Target{}, fmt.Errorf("parse target %q: invalid port %q", address, port)
	}

	return Target{Host: host, Port: uint16(p)}, nil
}
