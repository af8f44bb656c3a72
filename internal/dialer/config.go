package dialer

import (
	"net"
	"time"
)

const (
	DefaultDialTimeout        = 10 * time.Second
	DefaultNegotiationTimeout = 10 * time.Second
)

type Config struct {
	// DialTimeout bounds the TCP connect to the SOCKS endpoint.
	DialTimeout time.Duration

	// NegotiationTimeout bounds each handshake round trip.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
}
