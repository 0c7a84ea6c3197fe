// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/rs/zerolog"

	"github.com/momentics/iocp-ws/control"
	"github.com/momentics/iocp-ws/pool"
	"github.com/momentics/iocp-ws/reactor"
)

// Option customizes server initialization.
type Option func(*Server)

// WithHandler replaces the default echo responder.
func WithHandler(h Handler) Option {
	return func(s *Server) {
		s.handler = h
	}
}

// WithLogger sets the server logger; the default is silent.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithDriver supplies the I/O driver instead of the one named by Config.Driver.
func WithDriver(d reactor.Driver) Option {
	return func(s *Server) {
		s.driver = d
	}
}

// WithMetrics records server counters and probes into mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(s *Server) {
		s.metrics = mr
	}
}

// WithBufferPool sets the pool outbound frames are built in.
func WithBufferPool(p *pool.BytePool) Option {
	return func(s *Server) {
		s.pool = p
	}
}
