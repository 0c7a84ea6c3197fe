// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants.

package protocol

import "fmt"

// Opcode is the 4-bit frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether o is a control opcode (close, ping, pong).
func (o Opcode) IsControl() bool { return o&0x8 != 0 }

// IsValid reports whether o is one of the six opcodes defined by RFC 6455.
func (o Opcode) IsValid() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	}
	return false
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	}
	return fmt.Sprintf("opcode(0x%x)", byte(o))
}

const (
	// MaxFrameSize is the default upper bound on a single frame payload.
	MaxFrameSize = 16 << 20
	// MaxHeaderSize is the largest possible frame header: 2 + 8 + 4.
	MaxHeaderSize = 14
	// MaxControlPayload bounds close, ping and pong payloads.
	MaxControlPayload = 125
	// maxCloseReason leaves room for the two-byte status code.
	maxCloseReason = MaxControlPayload - 2

	finBit     = 0x80
	rsvMask    = 0x70
	opcodeMask = 0x0F
	maskBit    = 0x80
	lenMask    = 0x7F

	len16Code = 126
	len64Code = 127
)

// StatusCode is a close status code carried in close frames.
type StatusCode uint16

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusUnsupportedData StatusCode = 1003
	// 1004 is reserved.
	StatusNoStatusRcvd StatusCode = 1005
	// StatusAbnormalClosure is reported locally when the transport drops
	// without a close exchange. It is never sent on the wire.
	StatusAbnormalClosure    StatusCode = 1006
	StatusInvalidPayloadData StatusCode = 1007
	StatusPolicyViolation    StatusCode = 1008
	StatusMessageTooBig      StatusCode = 1009
	StatusMandatoryExtension StatusCode = 1010
	StatusInternalError      StatusCode = 1011
	StatusTLSHandshake       StatusCode = 1015
)

func (c StatusCode) String() string {
	switch c {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusNoStatusRcvd:
		return "no status received"
	case StatusAbnormalClosure:
		return "abnormal closure"
	case StatusInvalidPayloadData:
		return "invalid payload data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusMandatoryExtension:
		return "mandatory extension"
	case StatusInternalError:
		return "internal error"
	case StatusTLSHandshake:
		return "tls handshake"
	}
	return fmt.Sprintf("status(%d)", uint16(c))
}

// validWireCode reports whether c may appear in a close frame.
func validWireCode(c StatusCode) bool {
	switch c {
	case 1004, StatusNoStatusRcvd, StatusAbnormalClosure, StatusTLSHandshake:
		return false
	}
	if c >= StatusNormalClosure && c <= StatusInternalError {
		return true
	}
	return c >= 3000 && c <= 4999
}
