package proxy

import (
	"net"
	"time"

	"github.com/die-net/socksgate/internal/dialer"
)

type Config struct {
	// NegotiationTimeout bounds reading a client's request head.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	Dialer dialer.Dialer

	// Verbose enables per-connection error logging.
	Verbose bool
}
