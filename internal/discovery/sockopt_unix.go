//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// broadcastControl enables SO_BROADCAST so the probe can reach
// 255.255.255.255.
func broadcastControl(_, _ string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return serr
}
