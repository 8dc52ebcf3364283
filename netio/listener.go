//go:build linux || darwin

package netio

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joeycumines/go-catrate"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-cosched"
)

// ErrClosed is returned by operations on a closed listener or connection.
var ErrClosed = errors.New("netio: use of closed socket")

// Listener accepts TCP connections, suspending the calling task while none
// are pending.
type Listener struct {
	sched    *cosched.Scheduler
	node     *cosched.Node
	limiter  *catrate.Limiter
	addr     *net.TCPAddr
	fd       int
	rejected uint64
	closed   bool
}

// ListenOption configures a Listener.
type ListenOption interface {
	applyListen(*listenOptions) error
}

type listenOptions struct {
	rates map[time.Duration]int
}

type listenOptionImpl struct {
	applyListenFunc func(*listenOptions) error
}

func (o *listenOptionImpl) applyListen(opts *listenOptions) error {
	return o.applyListenFunc(opts)
}

// WithAcceptRate limits the rate at which connections are accepted from each
// remote IP. The rates map a window to the maximum number of connections
// within it, e.g. {time.Second: 5, time.Minute: 60}. Connections exceeding
// the limit are closed immediately.
func WithAcceptRate(rates map[time.Duration]int) ListenOption {
	return &listenOptionImpl{func(opts *listenOptions) error {
		if len(rates) == 0 {
			return errors.New("netio: accept rate requires at least one rate")
		}
		opts.rates = rates
		return nil
	}}
}

// Listen announces on the local network address, which must be a TCP
// network ("tcp", "tcp4", or "tcp6"), and binds the listener to s.
func Listen(s *cosched.Scheduler, network, address string, opts ...ListenOption) (*Listener, error) {
	var cfg listenOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyListen(&cfg); err != nil {
			return nil, err
		}
	}

	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	tl, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("netio: unsupported network: %s", network)
	}
	fd, err := dupFD(tl)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		sched: s,
		node:  s.Node(fd),
		addr:  tl.Addr().(*net.TCPAddr),
		fd:    fd,
	}
	if cfg.rates != nil {
		l.limiter = catrate.NewLimiter(cfg.rates)
	}
	return l, nil
}

// dupFD takes a private, non-blocking, close-on-exec copy of the socket.
func dupFD(tl *net.TCPListener) (int, error) {
	rc, err := tl.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	var dupErr error
	if err := rc.Control(func(s uintptr) {
		fd, dupErr = unix.Dup(int(s))
	}); err != nil {
		return -1, err
	}
	if dupErr != nil {
		return -1, os.NewSyscallError("dup", dupErr)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}
	return fd, nil
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr { return l.addr }

// Rejected returns the number of connections closed due to the accept rate
// limit.
func (l *Listener) Rejected() uint64 { return l.rejected }

// FD returns the listening socket.
func (l *Listener) FD() int { return l.fd }

// Accept waits for and returns the next connection. Errors from the
// scheduler (e.g. [cosched.ErrCancelled]) are returned as is.
func (l *Listener) Accept() (*Conn, error) {
	for {
		if l.closed {
			return nil, ErrClosed
		}
		nfd, sa, err := unix.Accept(l.fd)
		switch err {
		case nil:
		case unix.EAGAIN:
			if err := l.sched.WaitFor(l.node, cosched.DirRead); err != nil {
				return nil, err
			}
			continue
		case unix.EINTR, unix.ECONNABORTED:
			continue
		default:
			return nil, os.NewSyscallError("accept", err)
		}

		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			return nil, os.NewSyscallError("setnonblock", err)
		}
		remote := sockaddrToTCPAddr(sa)
		if l.limiter != nil {
			if _, ok := l.limiter.Allow(remoteKey(remote)); !ok {
				_ = unix.Close(nfd)
				l.rejected++
				continue
			}
		}
		return newConn(l.sched, nfd, l.addr, remote), nil
	}
}

// Close removes the listener from the scheduler, resuming any task blocked in
// Accept with [cosched.ErrCancelled], and closes the socket.
func (l *Listener) Close() error {
	if l.closed {
		return ErrClosed
	}
	l.closed = true
	err := l.sched.Remove(l.node)
	if errors.Is(err, cosched.ErrNodeRemoved) {
		err = nil
	}
	return errors.Join(err, unix.Close(l.fd))
}
