//go:build unix

package server

import (
	"syscall"
)

// setSocketOptions sets platform-specific socket options
func setSocketOptions(fd uintptr) error {
	// SO_REUSEADDR lets a restarted server rebind while old sockets sit in TIME_WAIT
	return syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
