// File: protocol/close.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

// ClosePayload builds the body of a close frame. A normal closure without
// a reason, and any code that may not appear on the wire, produce an empty
// body. Reasons are cut to fit a control frame without splitting a rune.
func ClosePayload(code StatusCode, reason string) []byte {
	if code == StatusNormalClosure && reason == "" {
		return nil
	}
	if !validWireCode(code) {
		return nil
	}
	if len(reason) > maxCloseReason {
		cut := maxCloseReason
		for cut > 0 && !utf8.RuneStart(reason[cut]) {
			cut--
		}
		reason = reason[:cut]
	}
	p := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(p, uint16(code))
	return append(p, reason...)
}

// ParseClosePayload decodes the body of a received close frame. An empty
// body yields StatusNoStatusRcvd.
func ParseClosePayload(p []byte) (StatusCode, string, error) {
	switch {
	case len(p) == 0:
		return StatusNoStatusRcvd, "", nil
	case len(p) == 1:
		return 0, "", ErrBadClosePayload
	case len(p) > MaxControlPayload:
		return 0, "", ErrBadControlFrame
	}
	code := StatusCode(binary.BigEndian.Uint16(p))
	if !validWireCode(code) {
		return 0, "", ErrInvalidCloseCode
	}
	reason := p[2:]
	if !utf8.Valid(reason) {
		return 0, "", ErrInvalidUTF8
	}
	return code, string(reason), nil
}
