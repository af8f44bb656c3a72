//go:build openbsd

package tproxy

import (
	"net"

	"golang.org/x/sys/unix"
)

// OpenBSD's bind-any option is socket level.
func setTransparent(_ string, fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BINDANY, 1)
}

// OriginalDst returns the original destination for a TCP connection
// redirected to this listener by PF rdr-to.
func OriginalDst(c net.Conn) (*net.TCPAddr, bool) {
	return localDst(c)
}
