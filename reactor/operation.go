// File: reactor/operation.go
// Author: momentics <momentics@gmail.com>
//
// Per-operation context travelling from issue to completion.

package reactor

import (
	"errors"
	"sync/atomic"
)

var (
	ErrPortClosed   = errors.New("reactor: port closed")
	ErrHandleClosed = errors.New("reactor: handle closed")
	ErrReadPending  = errors.New("reactor: read already pending on handle")
	ErrNotListener  = errors.New("reactor: handle is not a listener")
)

// Completion keys for events not routed to an owner.
const (
	KeyConnection uintptr = 0xAAAA
	KeyRead       uintptr = 0xAAAB
	KeyWrite      uintptr = 0xAAAC
)

// OpKind identifies the asynchronous operation an Operation describes.
type OpKind uint8

const (
	OpAccept OpKind = iota + 1
	OpRead
	OpWrite
)

func (k OpKind) String() string {
	switch k {
	case OpAccept:
		return "accept"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return "unknown"
}

// Completer receives completions for the operations it owns.
type Completer interface {
	Complete(ev Event)
}

// Operation is the context of one asynchronous operation. Once issued it
// belongs to the driver until its completion event is dispatched; if the
// issuing call returns an error it was not accepted and no completion
// will follow.
type Operation struct {
	Kind OpKind
	// Key routes the completion when Owner is nil.
	Key uintptr
	// Buf is the destination of a read or the bytes of a write.
	Buf []byte
	// Owner, when set, receives the completion directly.
	Owner Completer
	// Accepted carries the new handle of a successful accept.
	Accepted Handle

	off      int // bytes of Buf already written
	release  func() bool
	released atomic.Bool
}

// NewReadOp returns a read operation into buf.
func NewReadOp(buf []byte, owner Completer) *Operation {
	return &Operation{Kind: OpRead, Key: KeyRead, Buf: buf, Owner: owner}
}

// NewWriteOp returns a write operation for buf. release, if non-nil, is run
// by the first call to Release.
func NewWriteOp(buf []byte, owner Completer, release func() bool) *Operation {
	return &Operation{Kind: OpWrite, Key: KeyWrite, Buf: buf, Owner: owner, release: release}
}

// NewAcceptOp returns an accept operation.
func NewAcceptOp(owner Completer) *Operation {
	return &Operation{Kind: OpAccept, Key: KeyConnection, Owner: owner}
}

// Release drops the operation's buffer. Only the first call has any
// effect; it reports whether this call performed the release.
func (op *Operation) Release() bool {
	if !op.released.CompareAndSwap(false, true) {
		return false
	}
	op.Buf = nil
	if op.release != nil {
		op.release()
	}
	return true
}

// Released reports whether Release has run.
func (op *Operation) Released() bool { return op.released.Load() }

// Event is a completion record. The zero Event is the shutdown sentinel.
type Event struct {
	Key   uintptr
	Bytes int
	Op    *Operation
	Err   error
}

func (ev Event) isSentinel() bool {
	return ev.Key == 0 && ev.Op == nil && ev.Bytes == 0 && ev.Err == nil
}
