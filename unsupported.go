//go:build !linux && !darwin

package cosched

import (
	"syscall"
)

func newPoller(int) (Poller, error) { return nil, ErrUnsupportedPlatform }

func createWakeFd() (int, int, error) { return -1, -1, ErrUnsupportedPlatform }

func signalWakeFd(int) error { return ErrUnsupportedPlatform }

func drainWakeFd(int) {}

func closeFD(int) error { return ErrUnsupportedPlatform }

func sockError(int) syscall.Errno { return syscall.EIO }
