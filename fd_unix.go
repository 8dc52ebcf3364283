//go:build linux || darwin

package cosched

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func closeFD(fd int) error {
	return unix.Close(fd)
}

// sockError returns the pending error of fd, falling back to EIO when fd is
// not a socket, or reports no error.
func sockError(fd int) syscall.Errno {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || v == 0 {
		return syscall.EIO
	}
	return syscall.Errno(v)
}
