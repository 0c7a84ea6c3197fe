// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server owns the completion port, the listening socket and the registry
// of live connections. Accepts, reads and writes all complete on the
// port's workers; the server only installs the accept callback and wires
// each new Connection to the application Handler.

package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/control"
	"github.com/momentics/iocp-ws/pool"
	"github.com/momentics/iocp-ws/protocol"
	"github.com/momentics/iocp-ws/reactor"
)

const (
	stateIdle = iota
	stateRunning
	stateStopped
)

// acceptRetryDelay spaces out accept retries after a transient failure.
const acceptRetryDelay = 10 * time.Millisecond

// Server is the composition root of an iocp-ws deployment.
type Server struct {
	live    *control.ConfigStore[Config]
	handler Handler
	log     zerolog.Logger
	driver  reactor.Driver
	metrics *control.MetricsRegistry
	pool    *pool.BytePool

	mu      sync.Mutex
	state   int
	port    *reactor.Port
	ln      reactor.Handle
	conns   map[uint64]*protocol.Connection
	started time.Time
}

// New validates cfg and builds a stopped server.
func New(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		log:   zerolog.Nop(),
		conns: make(map[uint64]*protocol.Connection),
	}
	for _, o := range opts {
		o(s)
	}
	if s.handler == nil {
		s.handler = NewEchoHandler(cfg.EchoPrefix)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}
	if s.pool == nil {
		s.pool = pool.Default()
	}
	s.log = s.log.With().Str("component", "server").Logger()
	s.live = control.NewConfigStore(cfg)
	s.live.OnReload(s.applyReload)
	s.registerProbes()
	return s, nil
}

// Start listens, runs the completion workers and issues the first accept.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateRunning:
		return api.ErrAlreadyRunning
	case stateStopped:
		return api.NewError(api.ErrCodeTransportClosed, "server stopped")
	}

	cfg := s.live.Get()
	drv := s.driver
	if drv == nil {
		d, err := reactor.NewDriver(cfg.Driver)
		if err != nil {
			return err
		}
		drv = d
	}
	port, err := reactor.New(drv,
		reactor.WithLogger(s.log),
		reactor.WithCloseLinger(cfg.CloseLinger),
		reactor.WithCPUPinning(cfg.PinWorkers),
	)
	if err != nil {
		return err
	}
	ln, err := port.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		_ = port.Stop()
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	port.SetConnectionCallback(s.onAccept)
	s.port, s.ln = port, ln

	if err := port.Run(cfg.Workers); err != nil {
		_ = port.Stop()
		return err
	}
	if err := port.Accept(ln, reactor.NewAcceptOp(nil)); err != nil {
		_ = port.Stop()
		return fmt.Errorf("accept: %w", err)
	}
	s.state = stateRunning
	s.started = time.Now()
	s.log.Info().
		Str("addr", ln.LocalAddr()).
		Str("driver", drv.Name()).
		Int("workers", cfg.Workers).
		Msg("server started")
	return nil
}

// Stop stops accepting, closes every live connection with 1001 and stops
// the completion port. Safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.state = stateStopped
		s.mu.Unlock()
		return nil
	}
	s.state = stateStopped
	conns := make([]*protocol.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	port, ln := s.port, s.ln
	s.mu.Unlock()

	_ = port.CloseHandle(ln)
	for _, c := range conns {
		c.Close(protocol.StatusGoingAway, "server shutting down")
	}
	err := port.Stop()
	s.log.Info().Int("closed", len(conns)).Msg("server stopped")
	return err
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.LocalAddr()
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Metrics returns the registry the server records into.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// Config returns the live configuration snapshot.
func (s *Server) Config() Config { return s.live.Get() }

// Info describes the running service.
func (s *Server) Info() api.ServiceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return api.ServiceInfo{Name: "iocp-ws", Version: Version(), StartedAt: s.started}
}

// Broadcast sends msg as a text message to every open connection and
// returns how many sends were accepted.
func (s *Server) Broadcast(msg string) int {
	n := 0
	for _, c := range s.snapshot() {
		if c.State() != api.StateOpen {
			continue
		}
		if c.SendText(msg) == nil {
			n++
		}
	}
	return n
}

func (s *Server) snapshot() []*protocol.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*protocol.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (s *Server) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

func (s *Server) onAccept(ev reactor.Event) {
	if ev.Err != nil {
		if !s.running() || errors.Is(ev.Err, reactor.ErrHandleClosed) {
			return
		}
		s.log.Warn().Err(ev.Err).Msg("accept failed")
		op := ev.Op
		time.AfterFunc(acceptRetryDelay, func() { s.rearm(op) })
		return
	}
	h := ev.Op.Accepted
	s.rearm(ev.Op)
	s.admit(h)
}

func (s *Server) rearm(op *reactor.Operation) {
	s.mu.Lock()
	port, ln, ok := s.port, s.ln, s.state == stateRunning
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := port.Accept(ln, op); err != nil && s.running() {
		s.log.Error().Err(err).Msg("accept could not be issued")
	}
}

func (s *Server) connOptions(cfg Config) protocol.Options {
	return protocol.Options{
		MaxFrameSize:      cfg.MaxFrameSize,
		MaxMessageSize:    cfg.MaxMessageSize,
		ReadBufferMin:     cfg.ReadBufferMin,
		RequireMask:       cfg.RequireMask,
		HandshakeMode:     cfg.HandshakeMode(),
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		Pool:              s.pool,
		Logger:            s.log,
	}
}

// admit registers the accepted handle as a connection, or closes it when
// the server is stopping or full.
func (s *Server) admit(h reactor.Handle) {
	cfg := s.live.Get()

	s.mu.Lock()
	if s.state != stateRunning || (cfg.MaxConnections > 0 && len(s.conns) >= cfg.MaxConnections) {
		port := s.port
		s.mu.Unlock()
		s.metrics.Add("connections_rejected", 1)
		s.log.Debug().Str("remote", h.RemoteAddr()).Msg("connection rejected")
		_ = port.CloseHandle(h)
		return
	}
	c := protocol.NewConnection(s.port, h, s.connOptions(cfg))
	s.conns[c.ID()] = c
	active := len(s.conns)
	s.mu.Unlock()

	s.bind(c)
	s.metrics.Add("connections_total", 1)
	s.metrics.Set("connections_active", int64(active))
	s.log.Debug().Uint64("conn", c.ID()).Str("remote", c.RemoteAddr()).Msg("connection accepted")

	if err := c.Start(); err != nil {
		s.log.Warn().Err(err).Uint64("conn", c.ID()).Msg("connection start failed")
		s.forget(c)
	}
}

func (s *Server) bind(c *protocol.Connection) {
	c.SetOpenCallback(func(protocol.Handshake) {
		s.handler.OnOpen(c)
	})
	c.SetMessageCallback(func(op protocol.Opcode, payload []byte) {
		s.metrics.Add("messages_in", 1)
		s.handler.OnMessage(c, op, payload)
	})
	c.SetErrorCallback(func(err error) {
		if protocol.IsHandshakeError(err) {
			s.metrics.Add("handshake_failures", 1)
			s.log.Warn().Err(err).Uint64("conn", c.ID()).Str("remote", c.RemoteAddr()).Msg("handshake rejected")
			return
		}
		if errors.Is(err, api.ErrTransportClosed) {
			return
		}
		s.metrics.Add("protocol_errors", 1)
		s.log.Info().Err(err).
			Uint64("conn", c.ID()).
			Uint16("code", uint16(protocol.CloseCodeFor(err))).
			Msg("closing on protocol error")
	})
	c.SetCloseCallback(func(code protocol.StatusCode, reason string) {
		s.forget(c)
		s.handler.OnClose(c, code, reason)
	})
}

// forget drops c from the registry and folds its counters into the totals.
func (s *Server) forget(c *protocol.Connection) {
	s.mu.Lock()
	_, ok := s.conns[c.ID()]
	delete(s.conns, c.ID())
	active := len(s.conns)
	s.mu.Unlock()
	if !ok {
		return
	}
	st := c.Stats()
	s.metrics.Add("bytes_in", int64(st.BytesIn))
	s.metrics.Add("bytes_out", int64(st.BytesOut))
	s.metrics.Add("messages_out", int64(st.MessagesOut))
	s.metrics.Set("connections_active", int64(active))
}
