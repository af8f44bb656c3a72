// Package dialer provides the outbound dialing used by socksgate.
//
// Every proxied connection leaves through a SOCKS endpoint: the SOCKS dialer
// opens a direct TCP connection to the endpoint, runs the handshake from
// internal/socks, and hands back the established stream. Dialers satisfy both
// the package's own Dialer interface and golang.org/x/net/proxy's Dialer and
// ContextDialer.
package dialer
