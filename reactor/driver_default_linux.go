//go:build linux
// +build linux

// File: reactor/driver_default_linux.go
// Author: momentics <momentics@gmail.com>

package reactor

// NewDefaultDriver returns the epoll driver.
func NewDefaultDriver() (Driver, error) {
	return NewEpollDriver()
}
