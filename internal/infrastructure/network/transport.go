//go:build linux

package network

import (
	"golang.org/x/sys/unix"
	"minitalk/internal/domain"
)

// SocketTransport performs non-blocking I/O directly on socket
// descriptors.
type SocketTransport struct{}

func (SocketTransport) Accept(listenerFD int) (domain.ConnID, domain.Peer, error) {
	nfd, sa, err := unix.Accept4(listenerFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return domain.NoConn, domain.Peer{}, mapErr(err)
	}
	ip, port := peerFromSockaddr(sa)
	return domain.ConnID(nfd), domain.Peer{IP: ip, Port: port}, nil
}

func (SocketTransport) Read(conn domain.ConnID, buf []byte) (int, error) {
	for {
		n, err := unix.Read(int(conn), buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, mapErr(err)
		}
		return n, nil
	}
}

func (SocketTransport) Write(conn domain.ConnID, p []byte) (int, error) {
	for {
		n, err := unix.SendmsgN(int(conn), p, nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, mapErr(err)
		}
		return n, nil
	}
}

func (SocketTransport) Close(conn domain.ConnID) error {
	return unix.Close(int(conn))
}

func mapErr(err error) error {
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return domain.ErrWouldBlock
	}
	return err
}
