//go:build linux

package cosched

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking eventfd, returned as both the read and
// write end.
func createWakeFd() (int, int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, -1, err
	}
	return fd, fd, nil
}

// signalWakeFd makes the read end readable.
func signalWakeFd(w int) error {
	var buf = [8]byte{1}
	_, err := unix.Write(w, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, already readable
		return nil
	}
	return err
}

// drainWakeFd resets the eventfd counter.
func drainWakeFd(r int) {
	var buf [8]byte
	_, _ = unix.Read(r, buf[:])
}
