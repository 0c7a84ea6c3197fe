// File: server/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application capability set and the default echo responder.

package server

import (
	"sync/atomic"

	"github.com/momentics/iocp-ws/protocol"
)

// DefaultEchoPrefix is prepended to every echoed message.
const DefaultEchoPrefix = "Echo: "

// Handler receives connection lifecycle events. Methods run on completion
// workers; a panic closes the offending connection with 1011.
type Handler interface {
	OnOpen(c *protocol.Connection)
	OnMessage(c *protocol.Connection, op protocol.Opcode, payload []byte)
	OnClose(c *protocol.Connection, code protocol.StatusCode, reason string)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are no-ops.
type HandlerFuncs struct {
	Open    func(c *protocol.Connection)
	Message func(c *protocol.Connection, op protocol.Opcode, payload []byte)
	Close   func(c *protocol.Connection, code protocol.StatusCode, reason string)
}

func (h HandlerFuncs) OnOpen(c *protocol.Connection) {
	if h.Open != nil {
		h.Open(c)
	}
}

func (h HandlerFuncs) OnMessage(c *protocol.Connection, op protocol.Opcode, payload []byte) {
	if h.Message != nil {
		h.Message(c, op, payload)
	}
}

func (h HandlerFuncs) OnClose(c *protocol.Connection, code protocol.StatusCode, reason string) {
	if h.Close != nil {
		h.Close(c, code, reason)
	}
}

// EchoHandler replies to each message with the prefix plus the message,
// text for text and binary for binary.
type EchoHandler struct {
	prefix atomic.Pointer[string]
}

// NewEchoHandler returns an echo responder using prefix.
func NewEchoHandler(prefix string) *EchoHandler {
	h := &EchoHandler{}
	h.SetPrefix(prefix)
	return h
}

// SetPrefix swaps the prefix for subsequent messages.
func (h *EchoHandler) SetPrefix(prefix string) {
	h.prefix.Store(&prefix)
}

// Prefix returns the current prefix.
func (h *EchoHandler) Prefix() string {
	if p := h.prefix.Load(); p != nil {
		return *p
	}
	return DefaultEchoPrefix
}

func (h *EchoHandler) OnOpen(*protocol.Connection) {}

func (h *EchoHandler) OnMessage(c *protocol.Connection, op protocol.Opcode, payload []byte) {
	prefix := h.Prefix()
	if op == protocol.OpBinary {
		out := make([]byte, 0, len(prefix)+len(payload))
		out = append(append(out, prefix...), payload...)
		_ = c.SendBinary(out)
		return
	}
	_ = c.SendText(prefix + string(payload))
}

func (h *EchoHandler) OnClose(*protocol.Connection, protocol.StatusCode, string) {}
