// Package proxy implements the socksgate HTTP proxy listener.
//
// Plain requests are forwarded over a fresh SOCKS connection with their
// header block passed through in original order; CONNECT requests become an
// opaque tunnel. Shared connection plumbing (keepalive listener, buffer pool,
// bidirectional copy) lives here too.
package proxy
