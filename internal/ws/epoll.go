//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// eventBatchSize bounds how many ready descriptors one Wait call collects.
const eventBatchSize = 128

// Epoll multiplexes reads across all WebSocket connections through a single
// kernel epoll instance. The server registers each socket's descriptor here
// instead of parking a reader goroutine per connection; Wait hands back only
// the connections that actually have data pending.
type Epoll struct {
	fd    int               // epoll file descriptor
	mu    sync.RWMutex      // protects conns
	conns map[int]net.Conn  // fd -> net.Conn
	evbuf []unix.EpollEvent // reusable event buffer for Wait
}

// NewEpoll creates the epoll instance via epoll_create1.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:    fd,
		conns: make(map[int]net.Conn),
		evbuf: make([]unix.EpollEvent, eventBatchSize),
	}, nil
}

// Add puts a connection's descriptor on the epoll interest list, watching for
// readable data (EPOLLIN) and peer hangup (EPOLLHUP).
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	e.conns[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove takes a connection's descriptor off the interest list and drops the
// fd mapping.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.fd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.conns, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered connection is readable and
// returns the batch. A descriptor removed between epoll_wait returning and
// the map lookup is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.evbuf, -1)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	ready := make([]net.Conn, 0, n)
	for i := 0; i < n; i++ {
		if conn, ok := e.conns[int(e.evbuf[i].Fd)]; ok {
			ready = append(ready, conn)
		}
	}
	e.mu.RUnlock()
	return ready, nil
}

// Close releases the epoll file descriptor.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns = nil
	return unix.Close(e.fd)
}

// socketFD digs the raw file descriptor out of a net.Conn through
// SyscallConn. Unlike File(), this does not duplicate the descriptor, so the
// fd registered with epoll is the one the connection actually reads on.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}

	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	var fd int
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
