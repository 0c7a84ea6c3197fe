// File: reactor/driver_select.go
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"strings"

	"github.com/momentics/iocp-ws/api"
)

// NewDriver maps a configured driver name ("auto", "epoll", "net") to a Driver.
func NewDriver(name string) (Driver, error) {
	switch strings.ToLower(name) {
	case "", "auto":
		return NewDefaultDriver()
	case "epoll":
		return NewEpollDriver()
	case "net":
		return NewNetDriver(), nil
	}
	return nil, api.NewError(api.ErrCodeInvalidArgument, "reactor: unknown driver").WithContext("driver", name)
}
