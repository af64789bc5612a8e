//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package datagram

// setSockopts is a no-op on platforms without a known option mapping.
func setSockopts(uintptr, sockopts) error { return nil }
