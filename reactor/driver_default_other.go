//go:build !linux
// +build !linux

// File: reactor/driver_default_other.go
// Author: momentics <momentics@gmail.com>
//
// Platforms without a native readiness driver fall back to package net.

package reactor

import "github.com/momentics/iocp-ws/api"

// NewDefaultDriver returns the portable net driver.
func NewDefaultDriver() (Driver, error) {
	return NewNetDriver(), nil
}

// NewEpollDriver is unavailable off Linux.
func NewEpollDriver() (Driver, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "reactor: epoll driver requires linux")
}
