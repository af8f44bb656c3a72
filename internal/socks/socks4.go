package socks

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	socks4Version    = 0x04
	socks4CmdConnect = 0x01
	socks4Granted    = 0x5a
)

// socks4Request builds the CONNECT request. Both variants append the target
// host after the empty, null-terminated user id. SOCKS4A additionally sets
// DSTIP to 0.0.0.1 so the endpoint knows a host name follows; plain SOCKS4
// keeps 0.0.0.0.
func (s *Session) socks4Request() ([]byte, error) {
	host := s.target.Host
	if host == "" || strings.IndexByte(host, 0) >= 0 {
		return nil, fmt.Errorf("%s target host %q: invalid", s.cfg.Variant, host)
	}

	b := make([]byte, 0, 10+len(host))
	b = append(b, socks4Version, socks4CmdConnect)
	b = binary.BigEndian.AppendUint16(b, s.target.Port)
	if s.cfg.Variant == VariantSOCKS4A {
		b = append(b, 0, 0, 0, 1)
	} else {
		b = append(b, 0, 0, 0, 0)
	}
	b = append(b, 0x00) // empty user id
	b = append(b, host...)
	b = append(b, 0x00)
	return b, nil
}

// connect4 performs the single SOCKS4 round trip.
func (s *Session) connect4() (State, error) {
	req, err := s.socks4Request()
	if err != nil {
		return StateFailed, err
	}
	if err := s.send("connect request", rawFrame(req)); err != nil {
		return StateFailed, err
	}

	b, err := s.read("connect reply", 8)
	if err != nil {
		return StateFailed, err
	}
	if b[0] != 0x00 {
		return StateFailed, formatError(s.cfg.Variant.String()+" connect reply", fmt.Sprintf("version 0x%02x", b[0]))
	}
	if b[1] != socks4Granted {
		return StateFailed, &ConnectError{Variant: s.cfg.Variant, Code: b[1]}
	}
	return StateEstablished, nil
}
