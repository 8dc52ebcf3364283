//go:build linux || darwin

package netio

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"

	"github.com/joeycumines/go-cosched"
)

// Conn is a non-blocking TCP connection, bound to a scheduler.
type Conn struct {
	sched   *cosched.Scheduler
	node    *cosched.Node
	local   *net.TCPAddr
	remote  *net.TCPAddr
	fd      int
	timeout time.Duration
	closed  bool
}

var _ io.ReadWriteCloser = (*Conn)(nil)

func newConn(s *cosched.Scheduler, fd int, local, remote *net.TCPAddr) *Conn {
	return &Conn{
		sched:  s,
		node:   s.Node(fd),
		local:  local,
		remote: remote,
		fd:     fd,
	}
}

// NewConn takes ownership of fd, a connected TCP socket, binding it to s.
// It is the receiving end of [Conn.Detach], which moves a connection between
// schedulers.
func NewConn(s *cosched.Scheduler, fd int) (*Conn, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, os.NewSyscallError("setnonblock", err)
	}
	c := newConn(s, fd, nil, nil)
	if sa, err := unix.Getsockname(fd); err == nil {
		c.local = sockaddrToTCPAddr(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remote = sockaddrToTCPAddr(sa)
	}
	return c, nil
}

// Dial connects to the address on the named TCP network, suspending the
// calling task until the connection is established.
func Dial(s *cosched.Scheduler, network, address string) (*Conn, error) {
	return DialTimeout(s, network, address, 0)
}

// DialTimeout is Dial, failing with [cosched.ErrTimeout] if the connection
// is not established within timeout. A non-positive timeout means none.
func DialTimeout(s *cosched.Scheduler, network, address string, timeout time.Duration) (*Conn, error) {
	raddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, err
	}
	if len(raddr.IP) == 0 {
		raddr.IP = net.IPv4(127, 0, 0, 1)
	}
	family, sa, err := tcpAddrToSockaddr(raddr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setnonblock", err)
	}

	c := newConn(s, fd, nil, raddr)
	c.timeout = timeout
	if err := c.connect(sa); err != nil {
		_ = c.Close()
		return nil, err
	}
	if lsa, err := unix.Getsockname(fd); err == nil {
		c.local = sockaddrToTCPAddr(lsa)
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return c, nil
}

func (c *Conn) connect(sa unix.Sockaddr) error {
	for {
		err := unix.Connect(c.fd, sa)
		switch err {
		case nil, unix.EISCONN:
			return nil
		case unix.EINTR:
			continue
		case unix.EINPROGRESS, unix.EALREADY:
		default:
			return os.NewSyscallError("connect", err)
		}
		if err := c.wait(cosched.DirWrite); err != nil {
			return err
		}
		v, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return os.NewSyscallError("getsockopt", err)
		}
		if v != 0 {
			return os.NewSyscallError("connect", syscall.Errno(v))
		}
		return nil
	}
}

// SetTimeout sets the maximum time a single Read, Write, or connect will
// wait for readiness. Zero disables the timeout.
func (c *Conn) SetTimeout(d time.Duration) { c.timeout = d }

// FD returns the connection's socket.
func (c *Conn) FD() int { return c.fd }

// LocalAddr returns the local network address, if known.
func (c *Conn) LocalAddr() net.Addr { return c.local }

// RemoteAddr returns the remote network address, if known.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

func (c *Conn) wait(dir cosched.Direction) error {
	if c.timeout > 0 {
		return c.sched.WaitForTimeout(c.node, dir, c.timeout)
	}
	return c.sched.WaitFor(c.node, dir)
}

// TryRead reads without suspending, returning [iox.ErrWouldBlock] if no
// data is available.
func (c *Conn) TryRead(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		switch err {
		case nil:
			if n == 0 && len(p) != 0 {
				return 0, io.EOF
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

// Read reads into p, suspending the calling task until data is available.
// It returns [io.EOF] once the peer has closed its end.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		n, err := c.TryRead(p)
		if !errors.Is(err, iox.ErrWouldBlock) {
			return n, err
		}
		if err := c.wait(cosched.DirRead); err != nil {
			return 0, err
		}
	}
}

// TryWrite writes as much of p as possible without suspending, returning
// [iox.ErrWouldBlock] if nothing could be written.
func (c *Conn) TryWrite(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	for {
		n, err := unix.Write(c.fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, iox.ErrWouldBlock
		default:
			return 0, os.NewSyscallError("write", err)
		}
	}
}

// Write writes all of p, suspending the calling task whenever the socket's
// send buffer is full.
func (c *Conn) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		n, err := c.TryWrite(p[written:])
		written += n
		switch {
		case err == nil:
		case errors.Is(err, iox.ErrWouldBlock):
			if err := c.wait(cosched.DirWrite); err != nil {
				return written, err
			}
		default:
			return written, err
		}
	}
	return written, nil
}

// CloseWrite shuts down the writing side of the connection.
func (c *Conn) CloseWrite() error {
	if c.closed {
		return ErrClosed
	}
	return os.NewSyscallError("shutdown", unix.Shutdown(c.fd, unix.SHUT_WR))
}

// Detach removes the connection from its scheduler, without closing it,
// returning the socket, which the caller then owns. See also [NewConn].
func (c *Conn) Detach() (int, error) {
	if c.closed {
		return -1, ErrClosed
	}
	c.closed = true
	if err := c.sched.Remove(c.node); err != nil && !errors.Is(err, cosched.ErrNodeRemoved) {
		return -1, err
	}
	return c.fd, nil
}

// Close removes the connection from the scheduler, resuming any task blocked
// on it with [cosched.ErrCancelled], and closes the socket.
func (c *Conn) Close() error {
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	err := c.sched.Remove(c.node)
	if errors.Is(err, cosched.ErrNodeRemoved) {
		err = nil
	}
	return errors.Join(err, unix.Close(c.fd))
}
