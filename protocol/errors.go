// File: protocol/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"
	"fmt"

	"github.com/momentics/iocp-ws/api"
)

// Protocol violations. Each maps to a close status via CloseCodeFor.
var (
	ErrInvalidOpcode         = errors.New("invalid opcode")
	ErrReservedBits          = errors.New("reserved bits set without negotiated extension")
	ErrNonMinimalLength      = errors.New("payload length not minimally encoded")
	ErrPayloadLengthMismatch = errors.New("payload length does not match header")
	ErrFrameTooLarge         = errors.New("frame payload exceeds maximum size")
	ErrMessageTooLarge       = errors.New("message exceeds maximum size")
	ErrBadControlFrame       = errors.New("control frame fragmented or payload exceeds 125 bytes")
	ErrUnmaskedFrame         = errors.New("client frame is not masked")
	ErrUnexpectedContinue    = errors.New("continuation frame without message in progress")
	ErrUnexpectedDataFrame   = errors.New("data frame while fragmented message in progress")
	ErrInvalidUTF8           = errors.New("text payload is not valid UTF-8")
	ErrBadClosePayload       = errors.New("malformed close payload")
	ErrInvalidCloseCode      = errors.New("close code not allowed on the wire")
	ErrRateLimited           = errors.New("message rate limit exceeded")
	ErrHandshakeTooLarge     = errors.New("handshake request exceeds size limit")
	ErrBadHandshake          = errors.New("malformed handshake request")
	ErrMissingUpgrade        = errors.New("missing websocket upgrade headers")
	ErrMissingKey            = errors.New("missing Sec-WebSocket-Key header")
	ErrUnsupportedVersion    = errors.New("unsupported Sec-WebSocket-Version")
	ErrConnectionClosed      = fmt.Errorf("connection closed: %w", api.ErrTransportClosed)
	ErrConnectionNotUpgraded = errors.New("connection handshake not complete")
	ErrHandlerPanic          = errors.New("message handler panicked")
)

// CloseError describes why a connection closed.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseCodeFor maps an error raised while processing inbound data to the
// close status sent to the peer.
func CloseCodeFor(err error) StatusCode {
	var ce CloseError
	switch {
	case err == nil:
		return StatusNormalClosure
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, ErrFrameTooLarge), errors.Is(err, ErrMessageTooLarge):
		return StatusMessageTooBig
	case errors.Is(err, ErrInvalidUTF8):
		return StatusInvalidPayloadData
	case errors.Is(err, ErrRateLimited):
		return StatusPolicyViolation
	case errors.Is(err, ErrHandlerPanic):
		return StatusInternalError
	case errors.Is(err, api.ErrTransportClosed):
		return StatusAbnormalClosure
	default:
		return StatusProtocolError
	}
}

// IsHandshakeError reports whether err rejected the opening handshake.
func IsHandshakeError(err error) bool {
	return errors.Is(err, ErrBadHandshake) ||
		errors.Is(err, ErrMissingUpgrade) ||
		errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrUnsupportedVersion) ||
		errors.Is(err, ErrHandshakeTooLarge)
}
