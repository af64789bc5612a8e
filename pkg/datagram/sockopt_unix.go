//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package datagram

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// setSockopts applies o to fd. Exclusive address use has no Unix
// counterpart: a socket without SO_REUSEADDR is already exclusive.
func setSockopts(fd uintptr, o sockopts) error {
	s := int(fd)
	if o.reuseAddress && !o.exclusiveAddressUse {
		if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("SO_REUSEADDR: %w", err)
		}
		if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}
	if o.broadcast {
		if err := unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			return fmt.Errorf("SO_BROADCAST: %w", err)
		}
	}
	return nil
}
