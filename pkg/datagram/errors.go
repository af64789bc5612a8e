package datagram

import (
	"errors"
	"fmt"
	"net"
)

// Socket errors.
var (
	ErrNotConnected     = errors.New("socket not connected")
	ErrAlreadyConnected = errors.New("socket already connected")
	ErrNoEndpoint       = errors.New("no endpoint configured")
	ErrNotMulticast     = errors.New("address is not a multicast group")
	ErrFamilyMismatch   = errors.New("address family does not match socket")
)

// OpError records a failed socket operation together with the endpoint
// it targeted.
type OpError struct {
	// Op is the operation name ("bind", "send", "receive", "join", ...).
	Op string

	// Addr is the endpoint involved, if any.
	Addr net.Addr

	// Err is the underlying error.
	Err error
}

func (e *OpError) Error() string {
	if e.Addr != nil {
		return fmt.Sprintf("datagram %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("datagram %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opError(op string, addr *net.UDPAddr, err error) error {
	if addr == nil {
		// Keep a nil *UDPAddr out of the interface.
		return &OpError{Op: op, Err: err}
	}
	return &OpError{Op: op, Addr: addr, Err: err}
}
