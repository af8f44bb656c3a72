package socks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// State is the position of a Session in the handshake.
type State int

const (
	StateConnecting State = iota
	StateNegotiatingAuth
	StateAuthenticating
	StateRequestingConnect
	StateEstablished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateNegotiatingAuth:
		return "negotiating-auth"
	case StateAuthenticating:
		return "authenticating"
	case StateRequestingConnect:
		return "requesting-connect"
	case StateEstablished:
		return "established"
	case StateFailed:
		return "failed"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// DialFunc opens the byte stream to the SOCKS endpoint.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Session performs one handshake. A Session is not safe for concurrent use
// and cannot be reused once it has run.
type Session struct {
	cfg    Config
	target Target

	// StepTimeout bounds each handshake round trip. Zero means no deadline.
	StepTimeout time.Duration

	// OnTransition, if set, is called after every state change.
	OnTransition func(from, to State)

	state State
	conn  net.Conn
	bw    *bufio.Writer
	buf   [8]byte
}

// NewSession returns a Session in StateConnecting for reaching target through
// the endpoint described by cfg.
func NewSession(cfg Config, target Target) *Session {
	return &Session{cfg: cfg, target: target}
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// Run dials the SOCKS endpoint with dial and performs the handshake. On
// success the returned conn is positioned at the first proxied byte and
// carries no deadline. On failure the conn has been closed.
//
// Canceling ctx while the handshake is in progress closes the connection.
func (s *Session) Run(ctx context.Context, dial DialFunc) (net.Conn, error) {
	if s.state != StateConnecting {
		return nil, fmt.Errorf("socks session already %s", s.state)
	}
	if !s.cfg.Variant.Supported() {
		s.fail()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProxyType, s.cfg.Variant)
	}

	endpoint := s.cfg.Endpoint()
	conn, err := dial(ctx, "tcp", endpoint)
	if err != nil {
		s.fail()
		return nil, &NetworkError{Op: "dial", Addr: endpoint, Err: err}
	}
	s.conn = conn
	s.bw = bufio.NewWriterSize(conn, 512)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	next := StateRequestingConnect
	if s.cfg.Variant == VariantSOCKS5 {
		next = StateNegotiatingAuth
	}
	if err := s.enter(next); err != nil {
		stop()
		return nil, s.abort(err)
	}

	for s.state != StateEstablished {
		if s.StepTimeout > 0 {
			_ = conn.SetDeadline(time.Now().Add(s.StepTimeout))
		}

		next, err := s.step()
		if err == nil {
			err = s.enter(next)
		}
		if err != nil {
			if !stop() && ctx.Err() != nil {
				err = fmt.Errorf("%w (%w)", ctx.Err(), err)
			}
			return nil, s.abort(err)
		}
	}

	if !stop() {
		return nil, s.abort(ctx.Err())
	}
	if s.StepTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}
	s.bw = nil
	return conn, nil
}

func (s *Session) step() (State, error) {
	switch s.state {
	case StateNegotiatingAuth:
		return s.negotiate5()
	case StateAuthenticating:
		return s.authenticate5()
	case StateRequestingConnect:
		if s.cfg.Variant == VariantSOCKS5 {
			return s.connect5()
		}
		return s.connect4()
	default:
		return StateFailed, fmt.Errorf("socks session: no step from %s", s.state)
	}
}

// enter moves to next. States only ever advance.
func (s *Session) enter(next State) error {
	if next <= s.state {
		return fmt.Errorf("socks session: invalid transition %s -> %s", s.state, next)
	}
	prev := s.state
	s.state = next
	if s.OnTransition != nil {
		s.OnTransition(prev, next)
	}
	return nil
}

func (s *Session) fail() {
	if s.state == StateFailed {
		return
	}
	prev := s.state
	s.state = StateFailed
	if s.OnTransition != nil {
		s.OnTransition(prev, StateFailed)
	}
}

func (s *Session) abort(err error) error {
	s.fail()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	return err
}

// send writes a complete frame in a single write to the connection.
func (s *Session) send(what string, frame io.WriterTo) error {
	if _, err := frame.WriteTo(s.bw); err != nil {
		return fmt.Errorf("%s write %s: %w", s.cfg.Variant, what, err)
	}
	if err := s.bw.Flush(); err != nil {
		return fmt.Errorf("%s write %s: %w", s.cfg.Variant, what, err)
	}
	return nil
}

// read returns exactly n bytes of a SOCKS4 reply, however they are
// fragmented on the wire. The returned slice is only valid until the next
// read.
func (s *Session) read(what string, n int) ([]byte, error) {
	b := s.buf[:n]
	if _, err := io.ReadFull(s.conn, b); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, formatError(s.cfg.Variant.String()+" "+what, "short reply")
		}
		return nil, fmt.Errorf("%s read %s: %w", s.cfg.Variant, what, err)
	}
	return b, nil
}

type rawFrame []byte

func (f rawFrame) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f)
	return int64(n), err
}
