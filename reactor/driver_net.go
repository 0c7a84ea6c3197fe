// File: reactor/driver_net.go
// Author: momentics <momentics@gmail.com>
//
// Portable driver built on package net. Each in-flight read or accept is
// served by its own goroutine; writes on a handle are drained in FIFO order
// by a single flusher goroutine.

package reactor

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

type netHandle struct {
	id   uint64
	conn net.Conn
	ln   net.Listener

	reading atomic.Bool

	mu       sync.Mutex
	writes   []*Operation
	flushing bool
	closing  bool
	closed   bool
}

func (h *netHandle) ID() uint64 { return h.id }

func (h *netHandle) LocalAddr() string {
	if h.ln != nil {
		return h.ln.Addr().String()
	}
	return h.conn.LocalAddr().String()
}

func (h *netHandle) RemoteAddr() string {
	if h.conn == nil {
		return ""
	}
	return h.conn.RemoteAddr().String()
}

// NetDriver implements Driver with goroutines over net.Conn.
type NetDriver struct {
	post PostFunc

	nextID atomic.Uint64
	mu     sync.Mutex
	live   map[uint64]*netHandle
	closed bool
}

// NewNetDriver returns a portable driver.
func NewNetDriver() *NetDriver {
	return &NetDriver{live: make(map[uint64]*netHandle)}
}

func (d *NetDriver) Name() string { return "net" }

func (d *NetDriver) Start(post PostFunc) error {
	d.post = post
	return nil
}

func (d *NetDriver) track(h *netHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrHandleClosed
	}
	d.live[h.id] = h
	return nil
}

func (d *NetDriver) untrack(h *netHandle) {
	d.mu.Lock()
	delete(d.live, h.id)
	d.mu.Unlock()
}

func (d *NetDriver) Listen(network, addr string) (Handle, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	h := &netHandle{id: d.nextID.Add(1), ln: ln}
	if err := d.track(h); err != nil {
		ln.Close()
		return nil, err
	}
	return h, nil
}

// Wrap adopts an established connection.
func (d *NetDriver) Wrap(c net.Conn) (Handle, error) {
	h := &netHandle{id: d.nextID.Add(1), conn: c}
	if err := d.track(h); err != nil {
		c.Close()
		return nil, err
	}
	return h, nil
}

func (d *NetDriver) Register(h Handle) error {
	if _, ok := h.(*netHandle); !ok {
		return errors.New("reactor: foreign handle")
	}
	return nil
}

func (d *NetDriver) Accept(lh Handle, op *Operation) error {
	h, ok := lh.(*netHandle)
	if !ok || h.ln == nil {
		return ErrNotListener
	}
	if h.isClosing() {
		return ErrHandleClosed
	}
	go func() {
		c, err := h.ln.Accept()
		if err != nil {
			if h.isClosing() {
				err = ErrHandleClosed
			}
			d.post.deliver(Event{Op: op, Err: err})
			return
		}
		if tc, ok := c.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		nh, err := d.Wrap(c)
		if err != nil {
			d.post.deliver(Event{Op: op, Err: err})
			return
		}
		op.Accepted = nh
		d.post.deliver(Event{Op: op})
	}()
	return nil
}

func (d *NetDriver) Read(hh Handle, op *Operation) error {
	h, ok := hh.(*netHandle)
	if !ok || h.conn == nil {
		return errors.New("reactor: read on non-stream handle")
	}
	if h.isClosing() {
		return ErrHandleClosed
	}
	if !h.reading.CompareAndSwap(false, true) {
		return ErrReadPending
	}
	go func() {
		n, err := h.conn.Read(op.Buf)
		h.reading.Store(false)
		switch {
		case n > 0:
			d.post.deliver(Event{Op: op, Bytes: n})
		case err == io.EOF:
			d.post.deliver(Event{Op: op})
		default:
			if h.isClosing() {
				err = ErrHandleClosed
			}
			d.post.deliver(Event{Op: op, Err: err})
		}
	}()
	return nil
}

func (d *NetDriver) Write(hh Handle, op *Operation) error {
	h, ok := hh.(*netHandle)
	if !ok || h.conn == nil {
		return errors.New("reactor: write on non-stream handle")
	}
	h.mu.Lock()
	if h.closing || h.closed {
		h.mu.Unlock()
		return ErrHandleClosed
	}
	h.writes = append(h.writes, op)
	start := !h.flushing
	h.flushing = true
	h.mu.Unlock()
	if start {
		go d.flush(h)
	}
	return nil
}

func (d *NetDriver) flush(h *netHandle) {
	for {
		h.mu.Lock()
		if len(h.writes) == 0 {
			h.flushing = false
			finish := h.closing && !h.closed
			h.mu.Unlock()
			if finish {
				d.closeNow(h)
			}
			return
		}
		op := h.writes[0]
		h.writes[0] = nil
		h.writes = h.writes[1:]
		h.mu.Unlock()

		n, err := h.conn.Write(op.Buf)
		op.off = n
		d.post.deliver(Event{Op: op, Bytes: n, Err: err})
	}
}

func (d *NetDriver) CloseHandle(hh Handle, linger time.Duration) error {
	h, ok := hh.(*netHandle)
	if !ok {
		return errors.New("reactor: foreign handle")
	}
	h.mu.Lock()
	if h.closing || h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closing = true
	busy := h.flushing
	h.mu.Unlock()

	if h.ln != nil || !busy {
		d.closeNow(h)
		return nil
	}
	// The flusher closes the socket once the queue drains; the deadline
	// bounds how long that may take.
	_ = h.conn.SetWriteDeadline(time.Now().Add(linger))
	return nil
}

func (h *netHandle) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing || h.closed
}

func (d *NetDriver) closeNow(h *netHandle) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.closing = true
	h.mu.Unlock()

	d.untrack(h)
	if h.ln != nil {
		h.ln.Close()
		return
	}
	h.conn.Close()
}

func (d *NetDriver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	handles := make([]*netHandle, 0, len(d.live))
	for _, h := range d.live {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		lingering := h.closing && h.flushing
		h.closing = true
		h.mu.Unlock()
		// A lingering handle is closed by its flusher once the queue
		// drains or the write deadline passes.
		if lingering {
			continue
		}
		d.closeNow(h)
	}
	return nil
}
