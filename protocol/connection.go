// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is a per-socket state machine driven entirely by completions.
// Exactly one read is outstanding at a time; inbound bytes accumulate until
// whole frames are available, and every outbound frame travels in its own
// pooled buffer released once its write completes.

package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/pool"
	"github.com/momentics/iocp-ws/reactor"
)

const (
	// DefaultReadBufferMin is the smallest read issued on a connection.
	DefaultReadBufferMin = 8192
	// DefaultMaxMessageSize bounds a reassembled fragmented message.
	DefaultMaxMessageSize = 64 << 20
)

var crlfcrlf = []byte("\r\n\r\n")

type (
	// OpenCallback runs once the opening handshake succeeds.
	OpenCallback func(hs Handshake)
	// MessageCallback receives each complete data message.
	MessageCallback func(op Opcode, payload []byte)
	// CloseCallback runs exactly once when the connection closes.
	CloseCallback func(code StatusCode, reason string)
	// ErrorCallback receives errors raised while processing the connection.
	ErrorCallback func(err error)
)

// Callbacks groups the connection event hooks.
type Callbacks struct {
	OnOpen    OpenCallback
	OnMessage MessageCallback
	OnClose   CloseCallback
	OnError   ErrorCallback
}

// IO is the part of *reactor.Port a Connection drives.
type IO interface {
	Associate(h reactor.Handle, key uintptr) error
	Read(h reactor.Handle, op *reactor.Operation) error
	Write(h reactor.Handle, op *reactor.Operation) error
	CloseHandle(h reactor.Handle) error
}

// Options configures a Connection. Zero values select defaults.
type Options struct {
	MaxFrameSize   uint64
	MaxMessageSize uint64
	ReadBufferMin  int
	// RequireMask rejects unmasked client frames.
	RequireMask   bool
	HandshakeMode HandshakeMode
	// Upgraded starts the connection in the open state, skipping the
	// HTTP handshake.
	Upgraded bool
	// MessagesPerSecond and MessageBurst enable inbound rate limiting
	// when MessagesPerSecond > 0.
	MessagesPerSecond float64
	MessageBurst      int

	Pool      *pool.BytePool
	Logger    zerolog.Logger
	Callbacks Callbacks
}

func (o *Options) setDefaults() {
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = MaxFrameSize
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.ReadBufferMin <= 0 {
		o.ReadBufferMin = DefaultReadBufferMin
	}
	if o.Pool == nil {
		o.Pool = pool.Default()
	}
}

type fragment struct {
	active bool
	op     Opcode
	buf    []byte
}

var nextConnID atomic.Uint64

// Connection is one WebSocket endpoint bound to a reactor handle.
type Connection struct {
	id     uint64
	io     IO
	opts   Options
	log    zerolog.Logger
	remote string

	sockMu sync.Mutex
	handle reactor.Handle // nil once released

	state  atomic.Int32
	closed atomic.Bool

	readMu sync.Mutex
	readOp *reactor.Operation
	recv   []byte
	hint   uint64
	frag   fragment

	path atomic.Pointer[string]

	cbMu sync.RWMutex
	cb   Callbacks

	limiter atomic.Pointer[rate.Limiter]

	bytesIn     atomic.Uint64
	bytesOut    atomic.Uint64
	framesIn    atomic.Uint64
	messagesIn  atomic.Uint64
	messagesOut atomic.Uint64

	closeMu     sync.Mutex
	closeStatus CloseError
}

// NewConnection binds h to a new Connection. No I/O is issued until Start.
func NewConnection(io IO, h reactor.Handle, opts Options) *Connection {
	opts.setDefaults()
	c := &Connection{
		id:     nextConnID.Add(1),
		io:     io,
		opts:   opts,
		handle: h,
		remote: h.RemoteAddr(),
		cb:     opts.Callbacks,
	}
	c.log = opts.Logger.With().Uint64("conn", c.id).Str("remote", c.remote).Logger()
	if opts.Upgraded {
		c.state.Store(int32(api.StateOpen))
	} else {
		c.state.Store(int32(api.StateConnecting))
	}
	if opts.MessagesPerSecond > 0 {
		c.SetRateLimit(opts.MessagesPerSecond, opts.MessageBurst)
	}
	c.readOp = reactor.NewReadOp(nil, c)
	return c
}

// Open creates a Connection and starts it.
func Open(io IO, h reactor.Handle, opts Options) (*Connection, error) {
	c := NewConnection(io, h, opts)
	if err := c.Start(); err != nil {
		return nil, err
	}
	return c, nil
}

// Start associates the handle with the port and issues the first read.
// On failure the handle is closed and the connection is left closed
// without running the close callback.
func (c *Connection) Start() error {
	c.sockMu.Lock()
	h := c.handle
	c.sockMu.Unlock()
	if h == nil {
		return ErrConnectionClosed
	}
	err := c.io.Associate(h, reactor.KeyRead)
	if err == nil {
		c.readMu.Lock()
		err = c.issueRead()
		c.readMu.Unlock()
	}
	if err != nil {
		c.closed.Store(true)
		c.sockMu.Lock()
		c.handle = nil
		c.sockMu.Unlock()
		c.state.Store(int32(api.StateClosed))
		_ = c.io.CloseHandle(h)
		return fmt.Errorf("start connection: %w", err)
	}
	c.log.Debug().Msg("connection started")
	return nil
}

// ID returns the process-unique connection id.
func (c *Connection) ID() uint64 { return c.id }

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string { return c.remote }

// Path returns the request target of the opening handshake.
func (c *Connection) Path() string {
	if p := c.path.Load(); p != nil {
		return *p
	}
	return ""
}

// Closed reports whether Close has begun.
func (c *Connection) Closed() bool { return c.closed.Load() }

// State returns the current lifecycle state.
func (c *Connection) State() api.ConnState { return api.ConnState(c.state.Load()) }

// Stats returns a copy of the connection counters.
func (c *Connection) Stats() api.ConnStats {
	return api.ConnStats{
		BytesIn:     c.bytesIn.Load(),
		BytesOut:    c.bytesOut.Load(),
		FramesIn:    c.framesIn.Load(),
		MessagesIn:  c.messagesIn.Load(),
		MessagesOut: c.messagesOut.Load(),
	}
}

// CloseStatus returns the status the connection closed with.
func (c *Connection) CloseStatus() (CloseError, bool) {
	if c.State() != api.StateClosed {
		return CloseError{}, false
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeStatus, true
}

// SetOpenCallback replaces the open hook.
func (c *Connection) SetOpenCallback(fn OpenCallback) {
	c.cbMu.Lock()
	c.cb.OnOpen = fn
	c.cbMu.Unlock()
}

// SetMessageCallback replaces the message hook.
func (c *Connection) SetMessageCallback(fn MessageCallback) {
	c.cbMu.Lock()
	c.cb.OnMessage = fn
	c.cbMu.Unlock()
}

// SetCloseCallback replaces the close hook.
func (c *Connection) SetCloseCallback(fn CloseCallback) {
	c.cbMu.Lock()
	c.cb.OnClose = fn
	c.cbMu.Unlock()
}

// SetErrorCallback replaces the error hook.
func (c *Connection) SetErrorCallback(fn ErrorCallback) {
	c.cbMu.Lock()
	c.cb.OnError = fn
	c.cbMu.Unlock()
}

func (c *Connection) callbacks() Callbacks {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return c.cb
}

// SetRateLimit limits inbound messages to perSecond with the given burst.
// perSecond <= 0 removes the limit.
func (c *Connection) SetRateLimit(perSecond float64, burst int) {
	if perSecond <= 0 {
		c.limiter.Store(nil)
		return
	}
	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	if lim := c.limiter.Load(); lim != nil {
		lim.SetLimit(rate.Limit(perSecond))
		lim.SetBurst(burst)
		return
	}
	c.limiter.Store(rate.NewLimiter(rate.Limit(perSecond), burst))
}

// Complete implements reactor.Completer.
func (c *Connection) Complete(ev reactor.Event) {
	switch ev.Op.Kind {
	case reactor.OpRead:
		if err := c.consumeLocked(ev); err != nil {
			c.fail(err)
		}
	case reactor.OpWrite:
		c.completeWrite(ev)
	}
}

func (c *Connection) completeWrite(ev reactor.Event) {
	ev.Op.Release()
	if ev.Err != nil {
		if !c.closed.Load() {
			c.fail(fmt.Errorf("%w: write: %v", ErrConnectionClosed, ev.Err))
		}
		return
	}
	c.bytesOut.Add(uint64(ev.Bytes))
}

func (c *Connection) readSize() int {
	n := uint64(c.opts.ReadBufferMin)
	if c.hint+MaxHeaderSize > n {
		n = c.hint + MaxHeaderSize
	}
	if n > c.opts.MaxFrameSize {
		n = c.opts.MaxFrameSize
	}
	return int(n)
}

// issueRead posts the next read. Caller holds readMu.
func (c *Connection) issueRead() error {
	size := c.readSize()
	if cap(c.readOp.Buf) < size {
		c.readOp.Buf = make([]byte, size)
	} else {
		c.readOp.Buf = c.readOp.Buf[:size]
	}
	c.sockMu.Lock()
	h := c.handle
	c.sockMu.Unlock()
	if h == nil {
		return ErrConnectionClosed
	}
	return c.io.Read(h, c.readOp)
}

func (c *Connection) consumeLocked(ev reactor.Event) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.consume(ev)
}

func (c *Connection) consume(ev reactor.Event) error {
	if c.closed.Load() {
		return nil
	}
	if ev.Err != nil {
		return fmt.Errorf("%w: read: %v", ErrConnectionClosed, ev.Err)
	}
	if ev.Bytes == 0 {
		return CloseError{Code: StatusNoStatusRcvd, Reason: "peer closed connection"}
	}
	c.bytesIn.Add(uint64(ev.Bytes))
	c.recv = append(c.recv, ev.Op.Buf[:ev.Bytes]...)

	if c.State() == api.StateConnecting {
		done, err := c.upgrade()
		if err != nil {
			return err
		}
		if !done {
			return c.rearm()
		}
	}
	if err := c.processFrames(); err != nil {
		return err
	}
	if c.closed.Load() {
		return nil
	}
	return c.rearm()
}

func (c *Connection) rearm() error {
	if len(c.recv) == 0 && cap(c.recv) > 4*c.opts.ReadBufferMin {
		c.recv = nil
	}
	if err := c.issueRead(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// upgrade runs the opening handshake once the request head is complete.
func (c *Connection) upgrade() (bool, error) {
	idx := bytes.Index(c.recv, crlfcrlf)
	if idx < 0 {
		if len(c.recv) > MaxHandshakeSize {
			_ = c.writeRaw([]byte(BadRequestResponse))
			return false, ErrHandshakeTooLarge
		}
		return false, nil
	}
	end := idx + len(crlfcrlf)
	if end > MaxHandshakeSize {
		_ = c.writeRaw([]byte(BadRequestResponse))
		return false, ErrHandshakeTooLarge
	}
	resp, hs, err := HandleHandshake(string(c.recv[:end]), c.opts.HandshakeMode)
	if err != nil {
		_ = c.writeRaw([]byte(BadRequestResponse))
		return false, err
	}
	n := copy(c.recv, c.recv[end:])
	c.recv = c.recv[:n]
	if err := c.writeRaw([]byte(resp)); err != nil {
		return false, err
	}
	c.path.Store(&hs.Path)
	if !c.state.CompareAndSwap(int32(api.StateConnecting), int32(api.StateOpen)) {
		return false, nil
	}
	c.log.Debug().Str("path", hs.Path).Msg("handshake complete")
	if fn := c.callbacks().OnOpen; fn != nil {
		if err := c.invoke(func() { fn(hs) }); err != nil {
			return false, err
		}
	}
	return true, nil
}

// processFrames handles every complete frame buffered in recv.
func (c *Connection) processFrames() error {
	for !c.closed.Load() {
		h, ok, err := ParseHeaderLimit(c.recv, c.opts.MaxFrameSize)
		if err != nil {
			return err
		}
		if !ok {
			c.hint = 0
			return nil
		}
		hs := uint64(HeaderSize(h))
		total := hs + h.PayloadLength
		if uint64(len(c.recv)) < total {
			c.hint = total - uint64(len(c.recv))
			return nil
		}
		payload, err := DecodePayload(h, c.recv[hs:total])
		if err != nil {
			return err
		}
		n := copy(c.recv, c.recv[total:])
		c.recv = c.recv[:n]
		c.hint = 0
		c.framesIn.Add(1)
		if err := c.handleFrame(h, payload); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) handleFrame(h FrameHeader, payload []byte) error {
	if h.Opcode.IsControl() && (!h.Fin || h.PayloadLength > MaxControlPayload) {
		return ErrBadControlFrame
	}
	if c.opts.RequireMask && !h.Masked {
		return ErrUnmaskedFrame
	}
	switch h.Opcode {
	case OpText, OpBinary:
		if c.frag.active {
			return ErrUnexpectedDataFrame
		}
		if h.Fin {
			return c.deliver(h.Opcode, payload)
		}
		if uint64(len(payload)) > c.opts.MaxMessageSize {
			return ErrMessageTooLarge
		}
		c.frag = fragment{active: true, op: h.Opcode, buf: payload}
	case OpContinuation:
		if !c.frag.active {
			return ErrUnexpectedContinue
		}
		if uint64(len(c.frag.buf)+len(payload)) > c.opts.MaxMessageSize {
			return ErrMessageTooLarge
		}
		c.frag.buf = append(c.frag.buf, payload...)
		if h.Fin {
			op, msg := c.frag.op, c.frag.buf
			c.frag = fragment{}
			return c.deliver(op, msg)
		}
	case OpPing:
		if err := c.send(OpPong, payload); err != nil && !errors.Is(err, ErrConnectionClosed) {
			return err
		}
	case OpPong:
	case OpClose:
		code, reason, err := ParseClosePayload(payload)
		if err != nil {
			return err
		}
		if code == StatusNoStatusRcvd {
			code = StatusNormalClosure
		}
		c.Close(code, reason)
	}
	return nil
}

func (c *Connection) deliver(op Opcode, payload []byte) error {
	if uint64(len(payload)) > c.opts.MaxMessageSize {
		return ErrMessageTooLarge
	}
	if op == OpText && !utf8.Valid(payload) {
		return ErrInvalidUTF8
	}
	if lim := c.limiter.Load(); lim != nil && !lim.Allow() {
		return ErrRateLimited
	}
	c.messagesIn.Add(1)
	if fn := c.callbacks().OnMessage; fn != nil {
		return c.invoke(func() { fn(op, payload) })
	}
	return nil
}

// invoke runs a user callback, turning a panic into ErrHandlerPanic.
func (c *Connection) invoke(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	fn()
	return nil
}

// SendText sends a text message.
func (c *Connection) SendText(msg string) error {
	return c.sendMessage(OpText, []byte(msg))
}

// SendBinary sends a binary message.
func (c *Connection) SendBinary(p []byte) error {
	return c.sendMessage(OpBinary, p)
}

// SendPing sends a ping with an optional payload of at most 125 bytes.
func (c *Connection) SendPing(p []byte) error {
	return c.send(OpPing, p)
}

// SendPong sends a pong echoing p.
func (c *Connection) SendPong(p []byte) error {
	return c.send(OpPong, p)
}

func (c *Connection) sendMessage(op Opcode, p []byte) error {
	if err := c.send(op, p); err != nil {
		return err
	}
	c.messagesOut.Add(1)
	return nil
}

func (c *Connection) send(op Opcode, p []byte) error {
	switch c.State() {
	case api.StateConnecting:
		return ErrConnectionNotUpgraded
	case api.StateClosing, api.StateClosed:
		return ErrConnectionClosed
	}
	err := c.writeFrame(op, p)
	if err != nil && errors.Is(err, ErrConnectionClosed) && !c.closed.Load() {
		c.fail(err)
	}
	return err
}

func (c *Connection) writeFrame(op Opcode, p []byte) error {
	buf := c.opts.Pool.Get(MaxHeaderSize + len(p))
	b, err := AppendFrame(buf.B, op, p, false)
	if err != nil {
		buf.Release()
		return err
	}
	buf.B = b
	return c.submit(buf)
}

func (c *Connection) writeRaw(p []byte) error {
	buf := c.opts.Pool.Get(len(p))
	buf.B = append(buf.B, p...)
	return c.submit(buf)
}

// submit hands buf to the port as one write operation. The buffer is
// released by the write completion, or here if the write is refused.
func (c *Connection) submit(buf *pool.Buffer) error {
	op := reactor.NewWriteOp(buf.B, c, buf.Release)
	c.sockMu.Lock()
	h := c.handle
	if h == nil {
		c.sockMu.Unlock()
		op.Release()
		return ErrConnectionClosed
	}
	err := c.io.Write(h, op)
	c.sockMu.Unlock()
	if err != nil {
		op.Release()
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// fail closes the connection with the status matching err.
func (c *Connection) fail(err error) {
	var ce CloseError
	if errors.As(err, &ce) {
		c.Close(ce.Code, ce.Reason)
		return
	}
	if c.closed.Load() {
		return
	}
	c.log.Debug().Err(err).Msg("connection failed")
	if fn := c.callbacks().OnError; fn != nil {
		_ = c.invoke(func() { fn(err) })
	}
	c.Close(CloseCodeFor(err), err.Error())
}

// Close sends a close frame with code and reason (best effort), releases
// the socket, and runs the close callback. Only the first call has any
// effect.
func (c *Connection) Close(code StatusCode, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	prev := api.ConnState(c.state.Swap(int32(api.StateClosing)))
	if prev == api.StateOpen {
		_ = c.writeFrame(OpClose, ClosePayload(code, reason))
	}

	c.sockMu.Lock()
	h := c.handle
	c.handle = nil
	c.sockMu.Unlock()
	if h != nil {
		_ = c.io.CloseHandle(h)
	}

	c.closeMu.Lock()
	c.closeStatus = CloseError{Code: code, Reason: reason}
	c.closeMu.Unlock()
	c.state.Store(int32(api.StateClosed))

	c.log.Debug().Uint16("code", uint16(code)).Str("reason", reason).Msg("connection closed")
	if fn := c.callbacks().OnClose; fn != nil {
		_ = c.invoke(func() { fn(code, reason) })
	}
	return nil
}

// Destroy tears the connection down as an abnormal closure.
func (c *Connection) Destroy() {
	c.Close(StatusAbnormalClosure, "connection destroyed")
}
