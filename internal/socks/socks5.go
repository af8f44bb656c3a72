package socks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

const userPassVersion = 0x01

func (s *Session) offeredMethods() []byte {
	if s.cfg.hasCredentials() {
		return []byte{txsocks5.MethodNone, txsocks5.MethodUsernamePassword}
	}
	return []byte{txsocks5.MethodNone}
}

// negotiate5 sends the greeting and reads the method selection.
func (s *Session) negotiate5() (State, error) {
	methods := s.offeredMethods()
	if err := s.send("greeting", txsocks5.NewNegotiationRequest(methods)); err != nil {
		return StateFailed, err
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(s.conn)
	if err != nil {
		return StateFailed, s.replyError("method reply", err)
	}

	if !bytes.Contains(methods, []byte{neg.Method}) {
		return StateFailed, fmt.Errorf("%w: endpoint chose method 0x%02x", ErrAuthMethodRejected, neg.Method)
	}
	if neg.Method == txsocks5.MethodUsernamePassword {
		return StateAuthenticating, nil
	}
	return StateRequestingConnect, nil
}

// authenticate5 performs RFC 1929 username/password authentication.
func (s *Session) authenticate5() (State, error) {
	user, pass := []byte(s.cfg.Username), []byte(s.cfg.Password)
	if len(user) > 255 || len(pass) > 255 {
		return StateFailed, fmt.Errorf("%w: username or password longer than 255 bytes", ErrAuthFailed)
	}
	if err := s.send("userpass request", txsocks5.NewUserPassNegotiationRequest(user, pass)); err != nil {
		return StateFailed, err
	}

	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(s.conn)
	if err != nil {
		return StateFailed, s.replyError("userpass reply", err)
	}
	if rep.Ver != userPassVersion {
		return StateFailed, formatError("socks5 userpass reply", fmt.Sprintf("version 0x%02x", rep.Ver))
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return StateFailed, fmt.Errorf("%w: status 0x%02x", ErrAuthFailed, rep.Status)
	}
	return StateRequestingConnect, nil
}

// connect5 sends a CONNECT with a domain-name address and reads the whole
// reply, bound address included, so that nothing but proxied data follows.
func (s *Session) connect5() (State, error) {
	host := []byte(s.target.Host)
	if len(host) == 0 || len(host) > 255 {
		return StateFailed, fmt.Errorf("socks5 target host %q: length must be 1-255 bytes", s.target.Host)
	}
	port := binary.BigEndian.AppendUint16(nil, s.target.Port)

	req := txsocks5.NewRequest(txsocks5.CmdConnect, txsocks5.ATYPDomain, host, port)
	if err := s.send("connect request", req); err != nil {
		return StateFailed, err
	}

	rep, err := txsocks5.NewReplyFrom(s.conn)
	if err != nil {
		return StateFailed, s.replyError("connect reply", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return StateFailed, &ConnectError{Variant: VariantSOCKS5, Code: rep.Rep}
	}
	return StateEstablished, nil
}

// replyError sorts an error from the txsocks5 reply readers: a short reply
// or one the library rejects (ErrVersion, ErrBadReply) is malformed, while
// transport failures keep their identity.
func (s *Session) replyError(what string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return formatError("socks5 "+what, "short reply")
	case errors.As(err, &ne), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return fmt.Errorf("socks5 read %s: %w", what, err)
	default:
		return formatError("socks5 "+what, err)
	}
}
