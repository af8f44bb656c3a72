//go:build freebsd

package tproxy

import (
	"net"

	"golang.org/x/sys/unix"
)

func setTransparent(network string, fd int) error {
	if network == "tcp6" {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_BINDANY, 1)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_BINDANY, 1)
}

// OriginalDst returns the original destination for a TCP connection
// redirected to this listener by IPFW fwd or PF rdr-to.
func OriginalDst(c net.Conn) (*net.TCPAddr, bool) {
	return localDst(c)
}
