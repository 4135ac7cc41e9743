package domain

import (
	"net"
	"strconv"
)

// ConnID is the transport handle of a client connection.
type ConnID int

// NoConn marks an unset connection reference.
const NoConn ConnID = -1

type State int

const (
	StateUnauthenticated State = iota // waiting for login
	StateAwaitingTarget               // waiting for peer name
	StateRelaying                     // forwarding lines to Target
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingTarget:
		return "awaiting-target"
	case StateRelaying:
		return "relaying"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// SessionID addresses a directory slot. Gen changes every time the
// slot is reused, so an id held past Remove no longer matches.
type SessionID struct {
	Slot int
	Gen  uint32
}

type Session struct {
	ID       SessionID
	Conn     ConnID
	Username string
	Target   ConnID
}

func (s Session) State() State {
	switch {
	case s.Username == "":
		return StateUnauthenticated
	case s.Target == NoConn:
		return StateAwaitingTarget
	default:
		return StateRelaying
	}
}

type Peer struct {
	IP   net.IP
	Port int
}

func (p Peer) String() string {
	if p.IP == nil {
		return "unknown"
	}
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(p.Port))
}

const (
	DefaultPort              = 2137
	DefaultCapacity          = 1024
	DefaultMaxUsernameLength = 63
	DefaultMaxLineLength     = 4096
	DefaultMaxPendingBytes   = 64 * 1024
)
