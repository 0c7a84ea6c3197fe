//go:build !linux

// File: internal/concurrency/pin_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "runtime"

// PinCurrentThread locks the goroutine to its OS thread. CPU binding is
// not available on this platform.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	return nil
}

// UnpinCurrentThread releases the goroutine from its OS thread.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}
