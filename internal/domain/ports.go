package domain

import "net"

type EventType uint32

const (
	EventRead  EventType = 0x1
	EventWrite EventType = 0x4 // EPOLLOUT
)

type EventHandler interface {
	HandleEvent(fd int, event EventType) error
}

type EventLoop interface {
	Register(fd int, events EventType) error
	Modify(fd int, events EventType) error
	Unregister(fd int) error
	Run(handler EventHandler) error
	Stop()
}

// Transport performs non-blocking I/O on connection descriptors.
// Read and Write return ErrWouldBlock when the operation cannot make
// progress without blocking. Read returns (0, nil) on orderly shutdown.
type Transport interface {
	Accept(listenerFD int) (ConnID, Peer, error)
	Read(conn ConnID, buf []byte) (int, error)
	Write(conn ConnID, p []byte) (int, error)
	Close(conn ConnID) error
}

// PeerResolver issues reverse lookups whose answers arrive as read
// readiness on FD.
type PeerResolver interface {
	FD() int
	Lookup(ip net.IP) (uint16, error)
	Answer() (id uint16, host string, err error)
	Close() error
}
