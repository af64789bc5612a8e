package datagram

import "syscall"

// sockopts are the options applied to the descriptor before bind.
type sockopts struct {
	reuseAddress        bool
	exclusiveAddressUse bool
	broadcast           bool
}

// control returns a net.ListenConfig Control hook applying opts.
func (o sockopts) control(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = setSockopts(fd, o)
	}); err != nil {
		return err
	}
	return sockErr
}
