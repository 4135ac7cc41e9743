package domain

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded  = errors.New("directory is full")
	ErrAlreadyRegistered = errors.New("connection already has a session")
	ErrStaleSession      = errors.New("session no longer exists")
	ErrNotFound          = errors.New("no such user")
	ErrNameTaken         = errors.New("username already taken")
	ErrUsernameSet       = errors.New("username already set")
	ErrWouldBlock        = errors.New("operation would block")
)

// ConnError records a transport failure on one connection.
type ConnError struct {
	Op   string // "accept", "read", "write", "close"
	Conn ConnID
	Err  error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("%s fd %d: %v", e.Op, e.Conn, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }
