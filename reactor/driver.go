// File: reactor/driver.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral driver contract behind a Port.

package reactor

import "time"

// Handle is an OS socket owned by a Driver.
type Handle interface {
	ID() uint64
	LocalAddr() string
	RemoteAddr() string
}

// PostFunc enqueues a completion on the owning Port.
type PostFunc func(ev Event) error

// deliver posts ev. A completion the port refuses is never dispatched, so
// its operation is released here.
func (post PostFunc) deliver(ev Event) {
	if err := post(ev); err != nil && ev.Op != nil {
		ev.Op.Release()
	}
}

// Driver performs socket operations and reports each one exactly once
// through the PostFunc given to Start. Accept, Read and Write never block;
// an error return means the operation was not accepted.
type Driver interface {
	// Name identifies the driver in logs and metrics.
	Name() string
	// Start begins delivering completions.
	Start(post PostFunc) error
	// Listen opens a listening socket.
	Listen(network, addr string) (Handle, error)
	// Register prepares h for asynchronous operations. Idempotent.
	Register(h Handle) error
	Accept(ln Handle, op *Operation) error
	Read(h Handle, op *Operation) error
	Write(h Handle, op *Operation) error
	// CloseHandle flushes queued writes for up to linger, then closes h.
	// Pending operations complete with ErrHandleClosed.
	CloseHandle(h Handle, linger time.Duration) error
	// Close releases every handle and stops delivering completions.
	Close() error
}
