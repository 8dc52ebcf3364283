//go:build linux

package cosched

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollArm are the flags applied to every registration.
const epollArm = unix.EPOLLONESHOT | unix.EPOLLET | unix.EPOLLRDHUP

// epollPoller implements Poller using epoll (Linux).
type epollPoller struct {
	epfd   int
	buf    []unix.EpollEvent
	fds    fdTable
	closed bool
}

func newPoller(maxEvents int) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd: epfd,
		buf:  make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *epollPoller) Register(fd int, dir Direction) error {
	if p.closed {
		return ErrPollerClosed
	}
	if !validFD(fd) {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds.get(fd); ok {
		return ErrFDAlreadyRegistered
	}
	ev := unix.EpollEvent{Events: dirToEpoll(dir), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.fds.set(fd, dir)
	return nil
}

func (p *epollPoller) Modify(fd int, dir Direction) error {
	if p.closed {
		return ErrPollerClosed
	}
	if !validFD(fd) {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds.get(fd); !ok {
		return ErrFDNotRegistered
	}
	ev := unix.EpollEvent{Events: dirToEpoll(dir), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return err
	}
	p.fds.set(fd, dir)
	return nil
}

func (p *epollPoller) Unregister(fd int) error {
	if p.closed {
		return ErrPollerClosed
	}
	if !validFD(fd) {
		return ErrFDOutOfRange
	}
	if _, ok := p.fds.get(fd); !ok {
		return nil
	}
	p.fds.clear(fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return err
	}
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration, events []Event) ([]Event, error) {
	if p.closed {
		return events, ErrPollerClosed
	}
	n, err := unix.EpollWait(p.epfd, p.buf, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return events, nil
		}
		return events, err
	}
	for i := 0; i < n; i++ {
		fd := int(p.buf[i].Fd)
		if _, ok := p.fds.get(fd); !ok {
			// raced with Unregister
			continue
		}
		events = append(events, epollToEvent(fd, p.buf[i].Events))
	}
	return events, nil
}

func (p *epollPoller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}

func dirToEpoll(dir Direction) uint32 {
	events := uint32(epollArm)
	if dir&DirRead != 0 {
		events |= unix.EPOLLIN
	}
	if dir&DirWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func epollToEvent(fd int, events uint32) Event {
	ev := Event{FD: fd}
	if events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		ev.Dir |= DirRead
	}
	if events&unix.EPOLLOUT != 0 {
		ev.Dir |= DirWrite
	}
	if events&unix.EPOLLERR != 0 {
		ev.Err = true
	}
	if events&unix.EPOLLHUP != 0 {
		ev.Hangup = true
	}
	return ev
}
