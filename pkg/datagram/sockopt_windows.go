//go:build windows

package datagram

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// SO_EXCLUSIVEADDRUSE is defined by Winsock as the complement of SO_REUSEADDR.
const soExclusiveAddrUse = ^windows.SO_REUSEADDR

func setSockopts(fd uintptr, o sockopts) error {
	h := windows.Handle(fd)
	if o.exclusiveAddressUse {
		if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, soExclusiveAddrUse, 1); err != nil {
			return fmt.Errorf("SO_EXCLUSIVEADDRUSE: %w", err)
		}
	} else if o.reuseAddress {
		if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_REUSEADDR, 1); err != nil {
			return fmt.Errorf("SO_REUSEADDR: %w", err)
		}
	}
	if o.broadcast {
		if err := windows.SetsockoptInt(h, windows.SOL_SOCKET, windows.SO_BROADCAST, 1); err != nil {
			return fmt.Errorf("SO_BROADCAST: %w", err)
		}
	}
	return nil
}
