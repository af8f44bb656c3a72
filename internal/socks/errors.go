package socks

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedProxyType is returned before any connection is attempted
	// when the configured variant is not implemented.
	ErrUnsupportedProxyType = errors.New("unsupported socks proxy type")

	// ErrHandshakeFormat means a reply was short or malformed.
	ErrHandshakeFormat = errors.New("malformed socks reply")

	// ErrAuthMethodRejected means the endpoint chose an authentication
	// method that was not offered.
	ErrAuthMethodRejected = errors.New("socks auth method rejected")

	// ErrAuthFailed means username/password authentication was refused.
	ErrAuthFailed = errors.New("socks auth failed")

	// ErrConnectFailed is matched by every *ConnectError.
	ErrConnectFailed = errors.New("socks connect failed")
)

// Reasons a SOCKS endpoint gives for refusing a CONNECT. Each SOCKS5 reply
// code 0x01-0x08 and each SOCKS4 rejection code maps to exactly one.
var (
	ErrGeneralFailure      = errors.New("general socks server failure")
	ErrNotAllowed          = errors.New("connection not allowed by ruleset")
	ErrNetworkUnreachable  = errors.New("network unreachable")
	ErrHostUnreachable     = errors.New("host unreachable")
	ErrConnectionRefused   = errors.New("connection refused")
	ErrTTLExpired          = errors.New("ttl expired")
	ErrCommandNotSupported = errors.New("command not supported")
	ErrAddressNotSupported = errors.New("address type not supported")

	ErrRequestRejected   = errors.New("request rejected or failed")
	ErrIdentdUnreachable = errors.New("identd unreachable")
	ErrIdentdMismatch    = errors.New("identd user mismatch")
)

var socks5Reasons = map[byte]error{
	0x01: ErrGeneralFailure,
	0x02: ErrNotAllowed,
	0x03: ErrNetworkUnreachable,
	0x04: ErrHostUnreachable,
	0x05: ErrConnectionRefused,
	0x06: ErrTTLExpired,
	0x07: ErrCommandNotSupported,
	0x08: ErrAddressNotSupported,
}

var socks4Reasons = map[byte]error{
	0x5b: ErrRequestRejected,
	0x5c: ErrIdentdUnreachable,
	0x5d: ErrIdentdMismatch,
}

// ConnectError reports a non-success reply to a CONNECT request. Code is the
// raw reply byte.
type ConnectError struct {
	Variant Variant
	Code    byte
}

// Reason returns the sentinel describing Code, or nil for a code with no
// assigned meaning.
func (e *ConnectError) Reason() error {
	if e.Variant == VariantSOCKS5 {
		return socks5Reasons[e.Code]
	}
	return socks4Reasons[e.Code]
}

func (e *ConnectError) Error() string {
	if r := e.Reason(); r != nil {
		return fmt.Sprintf("%s connect failed: %v (0x%02x)", e.Variant, r, e.Code)
	}
	return fmt.Sprintf("%s connect failed: unknown reply code 0x%02x", e.Variant, e.Code)
}

func (e *ConnectError) Unwrap() []error {
	if r := e.Reason(); r != nil {
		return []error{ErrConnectFailed, r}
	}
	return []error{ErrConnectFailed}
}

// NetworkError wraps a transport failure while opening the connection to the
// SOCKS endpoint itself.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("socks %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// formatError wraps ErrHandshakeFormat with what was being read.
func formatError(step string, detail any) error {
	return fmt.Errorf("%w: %s: %v", ErrHandshakeFormat, step, detail)
}
