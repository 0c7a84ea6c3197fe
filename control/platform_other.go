//go:build !linux
// +build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>
//
// Portable platform probes.

package control

import "runtime"

// RegisterPlatformProbes sets the portable debug metrics.
func RegisterPlatformProbes(mr *MetricsRegistry) {
	mr.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	mr.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
}
