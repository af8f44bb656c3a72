package proxy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	errMissingHost      = errors.New("missing Host header")
	errEmptyResponse    = errors.New("empty response from upstream")
	errTransferEncoding = errors.New("unsupported Transfer-Encoding")
)

// upstreamRequest is the request written to the origin over the SOCKS
// connection. It is built fresh for every attempt.
type upstreamRequest struct {
	method     string
	requestURI string
	header     []HeaderField

	// body is the framed request body read from src, or nil. It is sent
	// upstream for methods other than GET and HEAD and otherwise only
	// consumed, so that src stays positioned at the next request.
	body    io.Reader
	chunked bool
	send    bool
	src     *bufio.Reader
}

func newUpstreamRequest(req *request, origin *url.URL, body *requestBody) *upstreamRequest {
	return &upstreamRequest{
		method:     req.Method,
		requestURI: origin.RequestURI(),
		header:     req.Header,
		body:       body.r,
		chunked:    body.chunked,
		send:       req.Method != http.MethodGet && req.Method != http.MethodHead,
		src:        body.src,
	}
}

// write sends the request line and the client's header fields unchanged,
// then streams the body.
func (r *upstreamRequest) write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	_, _ = fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", r.method, r.requestURI)
	for _, f := range r.header {
		_, _ = fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value)
	}
	_, _ = bw.WriteString("\r\n")
	if err := bw.Flush(); err != nil {
		return err
	}

	if r.body == nil {
		return nil
	}
	if !r.send {
		if _, err := io.Copy(io.Discard, r.body); err != nil {
			return err
		}
		return r.discardTrailer()
	}
	if !r.chunked {
		_, err := copyBuffer(w, r.body)
		return err
	}

	// The client's Transfer-Encoding header is passed through, so frame the
	// decoded body the same way.
	cw := httputil.NewChunkedWriter(w)
	if _, err := copyBuffer(cw, r.body); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	return r.discardTrailer()
}

// discardTrailer consumes the trailer section that follows a chunked body.
// Trailer fields are not forwarded.
func (r *upstreamRequest) discardTrailer() error {
	if !r.chunked {
		return nil
	}
	for {
		line, err := r.src.ReadSlice('\n')
		if err != nil {
			return fmt.Errorf("read chunked trailer: %w", err)
		}
		if len(bytes.TrimRight(line, "\r\n")) == 0 {
			return nil
		}
	}
}

// requestBody is the client's request body as framed by its headers.
type requestBody struct {
	r       io.Reader
	chunked bool
	src     *bufio.Reader
}

// frameBody reads req's body framing: a chunked Transfer-Encoding or a
// Content-Length. A request with neither has no body.
func frameBody(req *request, br *bufio.Reader) (*requestBody, error) {
	if te := req.Get("Transfer-Encoding"); te != "" {
		codings := strings.Split(te, ",")
		if !strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
			return nil, fmt.Errorf("%w: %q", errTransferEncoding, te)
		}
		return &requestBody{r: httputil.NewChunkedReader(br), chunked: true, src: br}, nil
	}

	cl := req.Get("Content-Length")
	if cl == "" {
		return &requestBody{src: br}, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid Content-Length %q", cl)
	}
	if n == 0 {
		return &requestBody{src: br}, nil
	}
	return &requestBody{r: io.LimitReader(br, n), src: br}, nil
}

// classifyTarget returns the origin URL for a non-CONNECT request. An
// absolute http:// or https:// target is used as is. Otherwise the Host
// header is required and https is assumed, which is reported by assumed.
func classifyTarget(req *request) (origin *url.URL, assumed bool, err error) {
	t := req.Target
	if hasPrefixFold(t, "http://") || hasPrefixFold(t, "https://") {
		u, err := url.Parse(t)
		if err != nil {
			return nil, false, fmt.Errorf("parse request target: %w", err)
		}
		if u.Hostname() == "" {
			return nil, false, fmt.Errorf("request target %q has no host", t)
		}
		return u, false, nil
	}

	host := req.Get("Host")
	if host == "" {
		return nil, false, errMissingHost
	}
	if !strings.HasPrefix(t, "/") {
		return nil, false, fmt.Errorf("unsupported request target %q", t)
	}
	u, err := url.Parse("https://" + host + t)
	if err != nil {
		return nil, false, fmt.Errorf("parse request target: %w", err)
	}
	if u.Hostname() == "" {
		return nil, false, errMissingHost
	}
	return u, true, nil
}

// originAddr returns host:port for u, defaulting the port from the scheme.
func originAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "443"
		if strings.EqualFold(u.Scheme, "http") {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// dialOrigin connects to origin through the SOCKS dialer. If that fails and
// the https scheme was only assumed, it retries once as plain http on port
// 80. It returns the URL that was actually reached.
func (s *HTTPProxyServer) dialOrigin(ctx context.Context, origin *url.URL, assumed bool) (net.Conn, *url.URL, error) {
	up, err := s.dialer.DialContext(ctx, "tcp", originAddr(origin))
	if err == nil {
		return up, origin, nil
	}
	if !assumed {
		return nil, nil, err
	}

	fallback := *origin
	fallback.Scheme = "http"
	fallback.Host = net.JoinHostPort(origin.Hostname(), "80")
	if s.cfg.Verbose {
		log.Printf("http proxy: %s: %v; retrying as %s", originAddr(origin), err, fallback.Host)
	}

	up, ferr := s.dialer.DialContext(ctx, "tcp", fallback.Host)
	if ferr != nil {
		return nil, nil, fmt.Errorf("%w; http fallback: %w", err, ferr)
	}
	return up, &fallback, nil
}

// handleForward forwards one request. It reports whether the client has
// already sent another request on conn, which is then buffered in br.
func (s *HTTPProxyServer) handleForward(ctx context.Context, conn net.Conn, br *bufio.Reader, req *request) (bool, error) {
	origin, assumed, err := classifyTarget(req)
	if err != nil {
		_, _ = writeError(conn, err, http.StatusBadRequest)
		return false, err
	}

	body, err := frameBody(req, br)
	if err != nil {
		_, _ = writeError(conn, err, http.StatusBadRequest)
		return false, err
	}

	up, origin, err := s.dialOrigin(ctx, origin, assumed)
	if err != nil {
		_, _ = writeError(conn, err, http.StatusInternalServerError)
		return false, err
	}

	return exchange(ctx, conn, br, up, newUpstreamRequest(req, origin, body))
}

// exchange writes ureq to up and streams the raw response back to the
// client until the upstream closes, which also closes conn.
//
// A client that half-closes after its request still gets the response. A
// client that sends another request instead is done with this response:
// the upstream is closed, conn is left open and exchange reports more.
func exchange(ctx context.Context, conn net.Conn, br *bufio.Reader, up net.Conn, ureq *upstreamRequest) (more bool, err error) {
	var (
		mu        sync.Mutex
		finished  bool
		handedOff bool
	)
	// claim ends the exchange exactly once, either by closing conn or by
	// handing it to the next request.
	claim := func(handoff bool) bool {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return false
		}
		finished, handedOff = true, handoff
		return true
	}
	closeBoth := func() {
		if claim(false) {
			_ = conn.Close()
			_ = up.Close()
		}
	}
	defer closeBoth()

	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		if err := ureq.write(up); err != nil {
			_ = up.Close()
			return fmt.Errorf("write upstream request: %w", err)
		}

		_, err := br.Peek(1)
		switch {
		case err == nil:
			if claim(true) {
				_ = up.Close()
			}
		case errors.Is(err, io.EOF):
			// Half-close: keep relaying the response.
		default:
			closeBoth()
		}
		return nil
	})

	g.Go(func() error {
		n, err := copyBuffer(conn, up)
		if claim(false) {
			if n == 0 {
				_, _ = writeError(conn, errEmptyResponse, http.StatusBadGateway)
			}
			_ = conn.Close()
			_ = up.Close()
		}
		if err != nil {
			return fmt.Errorf("copy upstream response: %w", err)
		}
		return nil
	})

	err = g.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}

	mu.Lock()
	more = handedOff
	mu.Unlock()
	if ctx.Err() != nil {
		more = false
	}
	return more, err
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
