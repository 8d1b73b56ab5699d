package origdst

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

// SockaddrInet4Len is the size of a struct sockaddr_in.
const SockaddrInet4Len = 16

// ResolutionError reports that the original destination of an intercepted
// connection could not be determined. The connection must be dropped.
type ResolutionError struct {
	Err error
}

func (e *ResolutionError) Error() string {
	return "original destination: " + e.Err.Error()
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

var (
	errNotTCP  = errors.New("not a TCP connection")
	errNotIPv4 = errors.New("not an IPv4 connection")
	errLoop    = errors.New("destination is the listener itself")
)

// ParseSockaddrInet4 decodes a struct sockaddr_in as returned by
// getsockopt(SO_ORIGINAL_DST): a host-order family, a network-order port and
// four address bytes.
func ParseSockaddrInet4(b []byte) (netip.AddrPort, error) {
	if len(b) < SockaddrInet4Len {
		return netip.AddrPort{}, fmt.Errorf("short sockaddr_in: %d bytes", len(b))
	}
	if family := binary.NativeEndian.Uint16(b[0:2]); family != syscall.AF_INET {
		return netip.AddrPort{}, fmt.Errorf("unexpected address family %d", family)
	}
	port := binary.BigEndian.Uint16(b[2:4])
	addr := netip.AddrFrom4([4]byte(b[4:8]))
	return netip.AddrPortFrom(addr, port), nil
}

// AppendSockaddrInet4 encodes ap as a struct sockaddr_in. It is the inverse of
// ParseSockaddrInet4.
func AppendSockaddrInet4(b []byte, ap netip.AddrPort) []byte {
	b = binary.NativeEndian.AppendUint16(b, syscall.AF_INET)
	b = binary.BigEndian.AppendUint16(b, ap.Port())
	a4 := ap.Addr().Unmap().As4()
	b = append(b, a4[:]...)
	return append(b, make([]byte, 8)...)
}

// localIPv4 returns the IPv4 local address of c.
func localIPv4(c net.Conn) (*net.TCPConn, netip.AddrPort, error) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil, netip.AddrPort{}, &ResolutionError{Err: errNotTCP}
	}
	la, ok := tc.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, netip.AddrPort{}, &ResolutionError{Err: errNotTCP}
	}
	ap := la.AddrPort()
	if !ap.Addr().Unmap().Is4() {
		return nil, netip.AddrPort{}, &ResolutionError{Err: errNotIPv4}
	}
	return tc, netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// checkLoop rejects a destination that is the listener itself, which happens
// when a connection reached the listener without being redirected.
func checkLoop(dst, local netip.AddrPort) error {
	if dst == local {
		return &ResolutionError{Err: errLoop}
	}
	return nil
}
