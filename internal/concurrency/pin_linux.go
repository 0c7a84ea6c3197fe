//go:build linux

// File: internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// PinCurrentThread locks the calling goroutine to its OS thread and binds
// that thread to cpu modulo the number of CPUs in the process mask.
func PinCurrentThread(cpu int) error {
	runtime.LockOSThread()
	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		return err
	}
	n := allowed.Count()
	if n == 0 {
		return nil
	}
	target := cpu % n
	var set unix.CPUSet
	for i, seen := 0, 0; i < len(allowed)*64; i++ {
		if !allowed.IsSet(i) {
			continue
		}
		if seen == target {
			set.Set(i)
			break
		}
		seen++
	}
	return unix.SchedSetaffinity(0, &set)
}

// UnpinCurrentThread releases the goroutine from its OS thread.
func UnpinCurrentThread() {
	runtime.UnlockOSThread()
}
