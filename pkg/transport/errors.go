package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Client errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrClientClosed     = errors.New("client closed")
	ErrNotHandshaked    = errors.New("not handshaked")
	ErrConnectCanceled  = errors.New("connect canceled")
	ErrAddressRequired  = errors.New("address is required")
)

// benignErrnos are socket errors that represent an ordinary disconnect.
var benignErrnos = []syscall.Errno{
	syscall.ECONNABORTED,
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.EPIPE,
	syscall.ESHUTDOWN,
}

// IsBenign reports whether err is an ordinary disconnect cause (peer reset,
// connection aborted or refused, operation aborted by a local close, socket
// shutdown). Benign errors end a session without an error notification.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrConnectCanceled) {
		return true
	}
	for _, errno := range benignErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
