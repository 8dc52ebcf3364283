//go:build darwin

package cosched

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking, close-on-exec self-pipe, returning
// the read end and the write end.
func createWakeFd() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return -1, -1, err
	}
	cleanup := func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	}
	unix.CloseOnExec(fds[0])
	unix.CloseOnExec(fds[1])
	if err := unix.SetNonblock(fds[0], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		cleanup()
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}

// signalWakeFd makes the read end readable.
func signalWakeFd(w int) error {
	_, err := unix.Write(w, []byte{1})
	if err == unix.EAGAIN {
		// pipe full, already readable
		return nil
	}
	return err
}

// drainWakeFd empties the pipe.
func drainWakeFd(r int) {
	var buf [64]byte
	for {
		n, err := unix.Read(r, buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}
