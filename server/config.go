// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration, defaults and validation.

package server

import (
	"strings"
	"time"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/internal/logging"
	"github.com/momentics/iocp-ws/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr string `json:"listen_addr"` // TCP bind address, e.g. ":8080"
	Workers    int    `json:"workers"`     // completion workers
	Driver     string `json:"driver"`      // auto|epoll|net
	PinWorkers bool   `json:"pin_workers"` // lock each worker to one CPU

	MaxFrameSize    uint64 `json:"max_frame_size"`
	MaxMessageSize  uint64 `json:"max_message_size"`
	ReadBufferMin   int    `json:"read_buffer_min"`
	RequireMask     bool   `json:"require_mask"`
	StrictHandshake bool   `json:"strict_handshake"`

	MaxConnections    int     `json:"max_connections"`     // 0 = unlimited
	MessagesPerSecond float64 `json:"messages_per_second"` // 0 = unlimited
	MessageBurst      int     `json:"message_burst"`

	CloseLinger time.Duration `json:"close_linger"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	AdminAddr string `json:"admin_addr"` // "" disables the admin endpoint

	EchoPrefix string `json:"echo_prefix"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     ":8080",
		Workers:        4,
		Driver:         "auto",
		MaxFrameSize:   protocol.MaxFrameSize,
		MaxMessageSize: protocol.MaxFrameSize,
		ReadBufferMin:  protocol.DefaultReadBufferMin,
		RequireMask:    true,
		CloseLinger:    time.Second,
		LogLevel:       "info",
		LogFormat:      logging.FormatConsole,
		EchoPrefix:     DefaultEchoPrefix,
	}
}

func invalid(field, msg string, value any) error {
	return api.NewError(api.ErrCodeInvalidArgument, msg).
		WithContext("field", field).
		WithContext("value", value)
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return invalid("listen_addr", "listen address is required", c.ListenAddr)
	}
	if c.Workers <= 0 {
		return invalid("workers", "workers must be positive", c.Workers)
	}
	c.Driver = strings.ToLower(c.Driver)
	switch c.Driver {
	case "":
		c.Driver = "auto"
	case "auto", "epoll", "net":
	default:
		return invalid("driver", "driver must be auto, epoll or net", c.Driver)
	}
	if c.MaxFrameSize == 0 || c.MaxFrameSize > protocol.MaxFrameSize {
		return invalid("max_frame_size", "max frame size out of range", c.MaxFrameSize)
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = c.MaxFrameSize
	}
	if c.ReadBufferMin <= 0 {
		return invalid("read_buffer_min", "read buffer must be positive", c.ReadBufferMin)
	}
	if c.MaxConnections < 0 {
		return invalid("max_connections", "max connections must not be negative", c.MaxConnections)
	}
	if c.MessagesPerSecond < 0 {
		return invalid("messages_per_second", "rate must not be negative", c.MessagesPerSecond)
	}
	if c.MessageBurst < 0 {
		return invalid("message_burst", "burst must not be negative", c.MessageBurst)
	}
	if c.MessagesPerSecond > 0 && c.MessageBurst == 0 {
		c.MessageBurst = int(c.MessagesPerSecond)
		if c.MessageBurst < 1 {
			c.MessageBurst = 1
		}
	}
	if c.CloseLinger < 0 {
		return invalid("close_linger", "close linger must not be negative", c.CloseLinger)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", err.Error(), c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return invalid("log_format", "log format must be console or json", c.LogFormat)
	}
	return nil
}

// HandshakeMode returns the handshake parser selected by StrictHandshake.
func (c Config) HandshakeMode() protocol.HandshakeMode {
	if c.StrictHandshake {
		return protocol.HandshakeStrict
	}
	return protocol.HandshakeNormalized
}
