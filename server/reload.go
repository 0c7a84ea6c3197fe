// File: server/reload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hot reload of the live configuration and debug probes.

package server

import (
	"runtime/debug"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/reactor"
)

// Reload validates cfg and makes it the live configuration. Rate limits,
// the echo prefix and max_connections take effect immediately; listener,
// worker and driver settings apply on the next Start.
func (s *Server) Reload(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.live.Set(cfg)
	return nil
}

func (s *Server) applyReload(old, cur Config) {
	if old.MessagesPerSecond != cur.MessagesPerSecond || old.MessageBurst != cur.MessageBurst {
		for _, c := range s.snapshot() {
			c.SetRateLimit(cur.MessagesPerSecond, cur.MessageBurst)
		}
	}
	if old.EchoPrefix != cur.EchoPrefix {
		if eh, ok := s.handler.(*EchoHandler); ok {
			eh.SetPrefix(cur.EchoPrefix)
		}
	}
	if old.ListenAddr != cur.ListenAddr || old.Workers != cur.Workers || old.Driver != cur.Driver {
		s.log.Warn().Msg("listener, worker and driver changes need a restart")
	}
	s.log.Info().
		Float64("rate", cur.MessagesPerSecond).
		Int("burst", cur.MessageBurst).
		Int("max_connections", cur.MaxConnections).
		Msg("configuration reloaded")
}

type connInfo struct {
	ID     uint64        `json:"id"`
	Remote string        `json:"remote"`
	Path   string        `json:"path"`
	State  string        `json:"state"`
	Stats  api.ConnStats `json:"stats"`
}

func (s *Server) registerProbes() {
	s.metrics.RegisterProbe("connections", func() any {
		conns := s.snapshot()
		out := make([]connInfo, 0, len(conns))
		for _, c := range conns {
			out = append(out, connInfo{
				ID:     c.ID(),
				Remote: c.RemoteAddr(),
				Path:   c.Path(),
				State:  c.State().String(),
				Stats:  c.Stats(),
			})
		}
		return out
	})
	s.metrics.RegisterProbe("port", func() any {
		if st, ok := s.portStats(); ok {
			return st
		}
		return nil
	})
	s.metrics.RegisterProbe("port_queued", func() any {
		if st, ok := s.portStats(); ok {
			return st.Queued
		}
		return 0
	})
	s.metrics.RegisterProbe("port_dispatched", func() any {
		if st, ok := s.portStats(); ok {
			return st.Dispatched
		}
		return uint64(0)
	})
	s.metrics.RegisterProbe("config", func() any {
		return s.live.Get()
	})
	s.metrics.RegisterProbe("pool", func() any {
		return s.pool.Stats()
	})
}

func (s *Server) portStats() (st reactor.Stats, ok bool) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return st, false
	}
	return port.Stats(), true
}

// Version reports the module version baked in at build time.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
