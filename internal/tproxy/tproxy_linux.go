//go:build linux

package tproxy

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/unix"
)

func setTransparent(network string, fd int) error {
	if network == "tcp6" {
		return unix.SetsockoptInt(fd, unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
	}
	return unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1)
}

// OriginalDst returns the original destination for a TCP connection
// redirected to this listener. Connections NATed by REDIRECT or DNAT report
// it through SO_ORIGINAL_DST; TPROXY leaves it as the local address.
func OriginalDst(c net.Conn) (*net.TCPAddr, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, false
	}
	if addr, ok := soOriginalDst(tc); ok {
		return addr, true
	}
	return localDst(c)
}

func soOriginalDst(tc *net.TCPConn) (*net.TCPAddr, bool) {
	rc, err := tc.SyscallConn()
	if err != nil {
		return nil, false
	}

	var (
		addr  *net.TCPAddr
		okRet bool
	)
	_ = rc.Control(func(fd uintptr) {
		// The kernel fills a sockaddr_in, which fits in an IPv6Mreq:
		// family(2) port(2, big endian) addr(4).
		mreq, err := unix.GetsockoptIPv6Mreq(int(fd), unix.SOL_IP, unix.SO_ORIGINAL_DST)
		if err != nil {
			return
		}
		sa := mreq.Multiaddr
		if binary.NativeEndian.Uint16(sa[0:2]) != unix.AF_INET {
			return
		}
		addr = &net.TCPAddr{
			IP:   net.IPv4(sa[4], sa[5], sa[6], sa[7]),
			Port: int(sa[2])<<8 | int(sa[3]),
		}
		okRet = true
	})
	return addr, okRet
}
