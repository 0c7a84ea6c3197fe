//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific platform probes.

package control

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// RegisterPlatformProbes sets Linux-specific debug metrics.
func RegisterPlatformProbes(mr *MetricsRegistry) {
	mr.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	mr.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	mr.RegisterProbe("platform.open_files_limit", func() any {
		var rl unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			return nil
		}
		return rl.Cur
	})
}
