//go:build darwin

package cosched

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueueArm are the flags applied to every (re-)registration.
const kqueueArm = unix.EV_ADD | unix.EV_ENABLE | unix.EV_ONESHOT | unix.EV_CLEAR

// kqueuePoller implements Poller using kqueue (Darwin).
type kqueuePoller struct {
	kq     int
	buf    []unix.Kevent_t
	fds    fdTable
	closed bool
}

func newPoller(maxEvents int) (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{
		kq:  kq,
		buf: make([]unix.Kevent_t, maxEvents),
	}, nil
}

func (p *kqueuePoller) Register(fd int, dir Direction) error {
	if p.closed {
		return ErrPollerClosed
	}
	if !validFD(fd) {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds.get(fd); ok {
		return ErrFDAlreadyRegistered
	}
	if err := p.arm(fd, dir); err != nil {
		return err
	}
	p.fds.set(fd, dir)
	return nil
}

func (p *kqueuePoller) Modify(fd int, dir Direction) error {
	if p.closed {
		return ErrPollerClosed
	}
	if !validFD(fd) {
		return ErrFDOutOfRange
	}
	old, ok := p.fds.get(fd)
	if !ok {
		return ErrFDNotRegistered
	}
	if removed := old &^ dir; removed != 0 {
		// one-shot filters that already fired are gone, ENOENT is expected
		_, _ = unix.Kevent(p.kq, dirToKevents(fd, removed, unix.EV_DELETE), nil, nil)
	}
	if err := p.arm(fd, dir); err != nil {
		return err
	}
	p.fds.set(fd, dir)
	return nil
}

func (p *kqueuePoller) Unregister(fd int) error {
	if p.closed {
		return ErrPollerClosed
	}
	if !validFD(fd) {
		return ErrFDOutOfRange
	}
	dir, ok := p.fds.get(fd)
	if !ok {
		return nil
	}
	p.fds.clear(fd)
	for _, kev := range dirToKevents(fd, dir, unix.EV_DELETE) {
		if _, err := unix.Kevent(p.kq, []unix.Kevent_t{kev}, nil, nil); err != nil && err != unix.ENOENT {
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) Wait(timeout time.Duration, events []Event) ([]Event, error) {
	if p.closed {
		return events, ErrPollerClosed
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		ms := timeoutMillis(timeout)
		ts = &unix.Timespec{
			Sec:  int64(ms / 1000),
			Nsec: int64((ms % 1000) * 1000000),
		}
	}
	n, err := unix.Kevent(p.kq, nil, p.buf, ts)
	if err != nil {
		if err == unix.EINTR {
			return events, nil
		}
		return events, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.buf[i].Ident)
		if _, ok := p.fds.get(fd); !ok {
			continue
		}
		events = append(events, keventToEvent(fd, &p.buf[i]))
	}
	return events, nil
}

func (p *kqueuePoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.kq)
}

func (p *kqueuePoller) arm(fd int, dir Direction) error {
	kevents := dirToKevents(fd, dir, kqueueArm)
	if len(kevents) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, kevents, nil, nil)
	return err
}

func dirToKevents(fd int, dir Direction, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if dir&DirRead != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_READ,
			Flags:  flags,
		})
	}
	if dir&DirWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: unix.EVFILT_WRITE,
			Flags:  flags,
		})
	}
	return kevents
}

func keventToEvent(fd int, kev *unix.Kevent_t) Event {
	ev := Event{FD: fd}
	switch kev.Filter {
	case unix.EVFILT_READ:
		ev.Dir = DirRead
	case unix.EVFILT_WRITE:
		ev.Dir = DirWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		ev.Err = true
	}
	if kev.Flags&unix.EV_EOF != 0 {
		ev.Hangup = true
	}
	return ev
}
