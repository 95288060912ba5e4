package transport

import (
	"errors"
	"fmt"
)

var (
	ErrConnect = errors.New("transport: connect failed")
	ErrWrite   = errors.New("transport: write failed")
	ErrRead    = errors.New("transport: read failed")
)

// Op names the phase of a call that failed.
type Op string

const (
	OpConnect Op = "connect"
	OpWrite   Op = "write"
	OpRead    Op = "read"
)

// OpError wraps the underlying network error with the failed phase and address.
// errors.Is matches it against ErrConnect, ErrWrite or ErrRead.
type OpError struct {
	Op   Op
	Addr string
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Is(target error) bool {
	switch e.Op {
	case OpConnect:
		return target == ErrConnect
	case OpWrite:
		return target == ErrWrite
	case OpRead:
		return target == ErrRead
	}
	return false
}
