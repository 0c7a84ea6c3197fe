//go:build linux
// +build linux

// File: reactor/driver_epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) driver. Sockets are registered edge-triggered; a single
// poller goroutine turns readiness into completions by retrying the
// pending accept, read or queued writes of the ready handle. Every attempt
// happens under the handle mutex, so an operation issued concurrently with
// a readiness edge is never stranded.

package reactor

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/iocp-ws/internal/transport"
)

const epollEvents = unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET

type fdHandle struct {
	id       uint64
	fd       int
	listener bool
	local    string
	remote   string

	mu         sync.Mutex
	registered bool
	pending    *Operation // accept or read
	writes     []*Operation
	closing    bool
	closed     bool
	linger     *time.Timer
}

func (h *fdHandle) ID() uint64         { return h.id }
func (h *fdHandle) LocalAddr() string  { return h.local }
func (h *fdHandle) RemoteAddr() string { return h.remote }

// EpollDriver implements Driver with edge-triggered epoll.
type EpollDriver struct {
	epfd   int
	wakefd int
	post   PostFunc

	nextID atomic.Uint64
	mu     sync.RWMutex
	fds    map[int]*fdHandle

	closed atomic.Bool
	done   chan struct{}
}

// NewEpollDriver returns an epoll driver. The epoll instance is created by Start.
func NewEpollDriver() (*EpollDriver, error) {
	return &EpollDriver{
		epfd:   -1,
		wakefd: -1,
		fds:    make(map[int]*fdHandle),
		done:   make(chan struct{}),
	}, nil
}

func (d *EpollDriver) Name() string { return "epoll" }

func (d *EpollDriver) Start(post PostFunc) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return err
	}
	d.epfd, d.wakefd, d.post = epfd, wakefd, post
	go d.poll()
	return nil
}

func (d *EpollDriver) Listen(network, addr string) (Handle, error) {
	fd, local, err := transport.Listen(network, addr, 0)
	if err != nil {
		return nil, err
	}
	h := &fdHandle{id: d.nextID.Add(1), fd: fd, listener: true, local: local}
	if err := d.Register(h); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return h, nil
}

func (d *EpollDriver) Register(hh Handle) error {
	h, ok := hh.(*fdHandle)
	if !ok {
		return ErrHandleClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	if h.registered {
		return nil
	}
	if d.closed.Load() {
		return ErrPortClosed
	}
	d.mu.Lock()
	d.fds[h.fd] = h
	d.mu.Unlock()
	ev := unix.EpollEvent{Events: epollEvents, Fd: int32(h.fd)}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, h.fd, &ev); err != nil {
		d.mu.Lock()
		delete(d.fds, h.fd)
		d.mu.Unlock()
		return err
	}
	h.registered = true
	return nil
}

func (d *EpollDriver) Accept(lh Handle, op *Operation) error {
	h, ok := lh.(*fdHandle)
	if !ok || !h.listener {
		return ErrNotListener
	}
	return d.issueRead(h, op)
}

func (d *EpollDriver) Read(hh Handle, op *Operation) error {
	h, ok := hh.(*fdHandle)
	if !ok || h.listener {
		return ErrNotListener
	}
	return d.issueRead(h, op)
}

func (d *EpollDriver) issueRead(h *fdHandle, op *Operation) error {
	h.mu.Lock()
	if h.closing || h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	if h.pending != nil {
		h.mu.Unlock()
		return ErrReadPending
	}
	h.pending = op
	h.mu.Unlock()
	d.tryRead(h)
	return nil
}

func (d *EpollDriver) Write(hh Handle, op *Operation) error {
	h, ok := hh.(*fdHandle)
	if !ok || h.listener {
		return ErrNotListener
	}
	h.mu.Lock()
	if h.closing || h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	h.writes = append(h.writes, op)
	h.mu.Unlock()
	d.tryWrite(h)
	return nil
}

// tryRead completes the pending accept or read if the socket has data.
func (d *EpollDriver) tryRead(h *fdHandle) {
	h.mu.Lock()
	op := h.pending
	if op == nil || h.closed {
		h.mu.Unlock()
		return
	}
	var ev Event
	if h.listener {
		nfd, remote, err := transport.Accept(h.fd)
		if err == unix.EAGAIN {
			h.mu.Unlock()
			return
		}
		if err != nil {
			ev = Event{Op: op, Err: err}
		} else {
			nh := &fdHandle{id: d.nextID.Add(1), fd: nfd, remote: remote, local: transport.LocalAddr(nfd)}
			if err := d.Register(nh); err != nil {
				unix.Close(nfd)
				ev = Event{Op: op, Err: err}
			} else {
				op.Accepted = nh
				ev = Event{Op: op}
			}
		}
	} else {
		var n int
		var err error
		for {
			n, err = unix.Read(h.fd, op.Buf)
			if err != unix.EINTR {
				break
			}
		}
		if err == unix.EAGAIN {
			h.mu.Unlock()
			return
		}
		if n < 0 {
			n = 0
		}
		ev = Event{Op: op, Bytes: n, Err: err}
	}
	h.pending = nil
	h.mu.Unlock()
	d.post.deliver(ev)
}

// tryWrite drains as much of the write queue as the socket accepts.
func (d *EpollDriver) tryWrite(h *fdHandle) {
	var done []Event
	h.mu.Lock()
	for len(h.writes) > 0 && !h.closed {
		op := h.writes[0]
		n, err := unix.Write(h.fd, op.Buf[op.off:])
		if n > 0 {
			op.off += n
		}
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err == nil && op.off < len(op.Buf) {
			continue
		}
		h.writes[0] = nil
		h.writes = h.writes[1:]
		done = append(done, Event{Op: op, Bytes: op.off, Err: err})
	}
	finish := h.closing && !h.closed && len(h.writes) == 0
	h.mu.Unlock()

	for _, ev := range done {
		d.post.deliver(ev)
	}
	if finish {
		d.closeNow(h)
	}
}

func (d *EpollDriver) CloseHandle(hh Handle, linger time.Duration) error {
	h, ok := hh.(*fdHandle)
	if !ok {
		return ErrHandleClosed
	}
	h.mu.Lock()
	if h.closing || h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	flushing := len(h.writes) > 0
	if flushing {
		h.linger = time.AfterFunc(linger, func() { d.closeNow(h) })
	}
	h.mu.Unlock()

	if !flushing {
		d.closeNow(h)
	}
	return nil
}

// closeNow closes the socket and fails whatever is still pending on it.
func (d *EpollDriver) closeNow(h *fdHandle) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.closing = true
	if h.linger != nil {
		h.linger.Stop()
	}
	pending := h.pending
	h.pending = nil
	writes := h.writes
	h.writes = nil
	if h.registered {
		_ = unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, h.fd, nil)
		d.mu.Lock()
		delete(d.fds, h.fd)
		d.mu.Unlock()
	}
	unix.Close(h.fd)
	h.mu.Unlock()

	if pending != nil {
		d.post.deliver(Event{Op: pending, Err: ErrHandleClosed})
	}
	for _, op := range writes {
		d.post.deliver(Event{Op: op, Bytes: op.off, Err: ErrHandleClosed})
	}
}

func (d *EpollDriver) poll() {
	defer close(d.done)
	events := make([]unix.EpollEvent, 256)
	for {
		n, err := unix.EpollWait(d.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == d.wakefd {
				if d.closed.Load() {
					return
				}
				var buf [8]byte
				_, _ = unix.Read(d.wakefd, buf[:])
				continue
			}
			d.mu.RLock()
			h := d.fds[fd]
			d.mu.RUnlock()
			if h == nil {
				continue
			}
			flags := events[i].Events
			if flags&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				d.tryRead(h)
			}
			if flags&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				d.tryWrite(h)
			}
		}
	}
}

func (d *EpollDriver) wake() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(d.wakefd, one[:])
}

func (d *EpollDriver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if d.epfd < 0 {
		return nil
	}
	d.wake()
	<-d.done

	d.mu.RLock()
	handles := make([]*fdHandle, 0, len(d.fds))
	for _, h := range d.fds {
		handles = append(handles, h)
	}
	d.mu.RUnlock()
	for _, h := range handles {
		d.closeNow(h)
	}
	unix.Close(d.wakefd)
	return unix.Close(d.epfd)
}
