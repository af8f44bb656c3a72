// Package socks implements the client side of the SOCKS4, SOCKS4A and SOCKS5
// CONNECT handshakes used by socksgate.
//
// A [Session] drives one handshake over an already opened connection to the
// SOCKS endpoint. It moves through [State] values strictly in order and ends
// either Established, after which the connection carries only the proxied
// byte stream, or Failed.
//
// SOCKS5 request frames are built with the wire types in
// github.com/txthinking/socks5. Replies are read by their declared lengths so
// that a reply split across several TCP segments is reassembled correctly.
package socks
