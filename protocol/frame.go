// File: protocol/frame.go
// Package protocol implements the RFC 6455 frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The codec is stateless. Parsing never consumes input: callers hand in
// whatever bytes have accumulated and get back either a complete header,
// an "incomplete" signal, or a protocol error.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

// FrameHeader is the decoded fixed part of a frame.
type FrameHeader struct {
	Fin           bool
	Rsv           byte // RSV1..RSV3 in the low three bits
	Opcode        Opcode
	Masked        bool
	PayloadLength uint64
	// MaskingKey holds the four key bytes in wire order, big-endian.
	// Only meaningful when Masked is set.
	MaskingKey uint32
}

// ParseHeader decodes a header from the start of data using MaxFrameSize
// as the payload limit. See ParseHeaderLimit.
func ParseHeader(data []byte) (FrameHeader, bool, error) {
	return ParseHeaderLimit(data, MaxFrameSize)
}

// ParseHeaderLimit decodes a header from the start of data. ok is false
// when data is too short to hold the whole header; no error is reported
// in that case and the caller should wait for more bytes.
func ParseHeaderLimit(data []byte, limit uint64) (h FrameHeader, ok bool, err error) {
	if len(data) < 2 {
		return h, false, nil
	}
	b0, b1 := data[0], data[1]
	h.Fin = b0&finBit != 0
	h.Rsv = (b0 & rsvMask) >> 4
	h.Opcode = Opcode(b0 & opcodeMask)
	h.Masked = b1&maskBit != 0

	if !h.Opcode.IsValid() {
		return h, false, ErrInvalidOpcode
	}
	if h.Rsv != 0 {
		return h, false, ErrReservedBits
	}

	off := 2
	switch code := b1 & lenMask; code {
	case len16Code:
		if len(data) < off+2 {
			return h, false, nil
		}
		h.PayloadLength = uint64(binary.BigEndian.Uint16(data[off:]))
		off += 2
		if h.PayloadLength < len16Code {
			return h, false, ErrNonMinimalLength
		}
	case len64Code:
		if len(data) < off+8 {
			return h, false, nil
		}
		h.PayloadLength = binary.BigEndian.Uint64(data[off:])
		off += 8
		if h.PayloadLength <= math.MaxUint16 {
			return h, false, ErrNonMinimalLength
		}
	default:
		h.PayloadLength = uint64(code)
	}

	if h.PayloadLength > limit {
		return h, false, ErrFrameTooLarge
	}

	if h.Masked {
		if len(data) < off+4 {
			return h, false, nil
		}
		h.MaskingKey = binary.BigEndian.Uint32(data[off:])
	}
	return h, true, nil
}

// HeaderSize returns the encoded size of h.
func HeaderSize(h FrameHeader) int {
	n := 2
	switch {
	case h.PayloadLength > math.MaxUint16:
		n += 8
	case h.PayloadLength >= len16Code:
		n += 2
	}
	if h.Masked {
		n += 4
	}
	return n
}

// AppendHeader appends the wire encoding of h to dst.
func AppendHeader(dst []byte, h FrameHeader) []byte {
	b0 := byte(h.Opcode) | (h.Rsv<<4)&rsvMask
	if h.Fin {
		b0 |= finBit
	}
	var b1 byte
	if h.Masked {
		b1 = maskBit
	}
	switch {
	case h.PayloadLength > math.MaxUint16:
		dst = append(dst, b0, b1|len64Code)
		dst = binary.BigEndian.AppendUint64(dst, h.PayloadLength)
	case h.PayloadLength >= len16Code:
		dst = append(dst, b0, b1|len16Code)
		dst = binary.BigEndian.AppendUint16(dst, uint16(h.PayloadLength))
	default:
		dst = append(dst, b0, b1|byte(h.PayloadLength))
	}
	if h.Masked {
		dst = binary.BigEndian.AppendUint32(dst, h.MaskingKey)
	}
	return dst
}

// AppendFrame appends a complete single-fragment frame to dst. When masked
// is set a fresh random key is drawn and the payload copy is masked.
func AppendFrame(dst []byte, op Opcode, payload []byte, masked bool) ([]byte, error) {
	if !op.IsValid() {
		return dst, ErrInvalidOpcode
	}
	if op.IsControl() && len(payload) > MaxControlPayload {
		return dst, ErrBadControlFrame
	}
	if uint64(len(payload)) > MaxFrameSize {
		return dst, ErrFrameTooLarge
	}
	h := FrameHeader{Fin: true, Opcode: op, Masked: masked, PayloadLength: uint64(len(payload))}
	if masked {
		var k [4]byte
		if _, err := rand.Read(k[:]); err != nil {
			return dst, err
		}
		h.MaskingKey = binary.BigEndian.Uint32(k[:])
	}
	dst = AppendHeader(dst, h)
	start := len(dst)
	dst = append(dst, payload...)
	if masked {
		Mask(h.MaskingKey, dst[start:])
	}
	return dst, nil
}

// CreateFrame encodes a complete single-fragment frame into a new slice.
func CreateFrame(op Opcode, payload []byte, masked bool) ([]byte, error) {
	return AppendFrame(make([]byte, 0, MaxHeaderSize+len(payload)), op, payload, masked)
}

// DecodePayload returns an unmasked copy of payload. It fails with
// ErrPayloadLengthMismatch unless payload holds exactly h.PayloadLength bytes.
func DecodePayload(h FrameHeader, payload []byte) ([]byte, error) {
	if uint64(len(payload)) != h.PayloadLength {
		return nil, fmt.Errorf("%w: have %d, header says %d", ErrPayloadLengthMismatch, len(payload), h.PayloadLength)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	if h.Masked {
		Mask(h.MaskingKey, out)
	}
	return out, nil
}

// Mask XORs b in place with key, starting at key byte 0. Applying it twice
// restores the input.
func Mask(key uint32, b []byte) {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], key)

	i := 0
	if len(b) >= 8 {
		k32 := uint64(binary.LittleEndian.Uint32(k[:]))
		k64 := k32<<32 | k32
		for ; i+8 <= len(b); i += 8 {
			v := binary.LittleEndian.Uint64(b[i:])
			binary.LittleEndian.PutUint64(b[i:], v^k64)
		}
	}
	for ; i < len(b); i++ {
		b[i] ^= k[i&3]
	}
}
