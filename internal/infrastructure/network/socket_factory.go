//go:build linux

package network

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

const listenBacklog = 128

// ListenTCP opens a non-blocking listening socket on host:port. An
// empty host binds every IPv4 address.
func ListenTCP(host string, port int) (int, error) {
	sa, family, err := sockaddr(host, port)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return 0, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return 0, err
	}

	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return 0, err
	}

	return fd, nil
}

// BindUDP opens an unbound non-blocking UDP socket of the family
// matching ip.
func BindUDP(ip net.IP) (int, error) {
	family := unix.AF_INET
	if ip != nil && ip.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

// LocalPort reports the port a bound socket ended up on.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	}
	return 0, fmt.Errorf("unexpected socket address %T", sa)
}

// Sockaddr converts host:port into a unix socket address.
func Sockaddr(host string, port int) (unix.Sockaddr, error) {
	sa, _, err := sockaddr(host, port)
	return sa, err
}

func sockaddr(host string, port int) (unix.Sockaddr, int, error) {
	if host == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, 0, fmt.Errorf("invalid IP address %q", host)
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func peerFromSockaddr(sa unix.Sockaddr) (net.IP, int) {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(append([]byte(nil), a.Addr[:]...)), a.Port
	case *unix.SockaddrInet6:
		return net.IP(append([]byte(nil), a.Addr[:]...)), a.Port
	}
	return nil, 0
}
