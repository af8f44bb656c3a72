// Package tproxy accepts transparently redirected TCP connections and sends
// each one through the SOCKS dialer to its original destination.
//
// On Linux, the listener sets IP_TRANSPARENT. The original destination comes
// from SO_ORIGINAL_DST for REDIRECT/DNAT rules, or from the accepted
// socket's local address for TPROXY rules.
//
// On FreeBSD (IP_BINDANY) and OpenBSD (SO_BINDANY), IPFW fwd and PF rdr-to
// preserve the original destination as the local address.
//
// On other platforms, the listener and original-destination lookup are
// stubbed out and return errors.
package tproxy
