//go:build unix

package tcp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddr lets a fixed local port be rebound while the previous
// connection on it still sits in TIME_WAIT.
func reuseAddr(_, _ string, rc syscall.RawConn) error {
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
