// File: protocol/handshake.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server side of the RFC 6455 opening handshake: request validation and the
// fixed 101 response carrying Sec-WebSocket-Accept.

package protocol

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	// MaxHandshakeSize bounds the request head accumulated before CRLFCRLF.
	MaxHandshakeSize = 8192

	headerConnection = "Connection"
	headerUpgrade    = "Upgrade"
	headerKey        = "Sec-WebSocket-Key"
	headerVersion    = "Sec-WebSocket-Version"
	requiredVersion  = "13"

	switchingProtocols = "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: "
)

// BadRequestResponse is written back when the upgrade request is rejected.
const BadRequestResponse = "HTTP/1.1 400 Bad Request\r\n" +
	"Connection: close\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"Content-Length: 0\r\n\r\n"

// HandshakeMode selects how upgrade headers are matched.
type HandshakeMode int

const (
	// HandshakeNormalized parses the request as HTTP/1.1 and matches header
	// names and tokens case-insensitively.
	HandshakeNormalized HandshakeMode = iota
	// HandshakeStrict matches the literal lines "Upgrade: websocket" and
	// "Connection: Upgrade" by substring.
	HandshakeStrict
)

// ParseHandshakeMode maps a config value to a mode.
func ParseHandshakeMode(s string) (HandshakeMode, error) {
	switch strings.ToLower(s) {
	case "", "normalized":
		return HandshakeNormalized, nil
	case "strict":
		return HandshakeStrict, nil
	}
	return 0, fmt.Errorf("unknown handshake mode %q", s)
}

func (m HandshakeMode) String() string {
	if m == HandshakeStrict {
		return "strict"
	}
	return "normalized"
}

// Handshake is the accepted upgrade request.
type Handshake struct {
	Path   string
	Key    string
	Accept string
}

// Response returns the 101 response text for h.
func (h Handshake) Response() string {
	return switchingProtocols + h.Accept + "\r\n\r\n"
}

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// HandleHandshake validates a complete request head (through the blank
// line) and returns the 101 response to send back.
func HandleHandshake(request string, mode HandshakeMode) (string, Handshake, error) {
	var (
		hs  Handshake
		err error
	)
	if mode == HandshakeStrict {
		hs, err = parseStrict(request)
	} else {
		hs, err = parseNormalized(request)
	}
	if err != nil {
		return "", Handshake{}, err
	}
	hs.Accept = ComputeAcceptKey(hs.Key)
	return hs.Response(), hs, nil
}

func parseNormalized(request string) (Handshake, error) {
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(request)))
	if err != nil {
		return Handshake{}, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if req.Method != http.MethodGet {
		return Handshake{}, fmt.Errorf("%w: method %s", ErrBadHandshake, req.Method)
	}
	if !headerContainsToken(req.Header, headerConnection, "upgrade") ||
		!headerContainsToken(req.Header, headerUpgrade, "websocket") {
		return Handshake{}, ErrMissingUpgrade
	}
	if v := req.Header.Get(headerVersion); v != "" && strings.TrimSpace(v) != requiredVersion {
		return Handshake{}, ErrUnsupportedVersion
	}
	key := strings.TrimSpace(req.Header.Get(headerKey))
	if key == "" {
		return Handshake{}, ErrMissingKey
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return Handshake{}, fmt.Errorf("%w: key is not a base64 16-byte nonce", ErrBadHandshake)
	}
	return Handshake{Path: req.URL.RequestURI(), Key: key}, nil
}

func parseStrict(request string) (Handshake, error) {
	lines := strings.Split(request, "\n")
	if len(lines) == 0 || !strings.Contains(lines[0], "GET") {
		return Handshake{}, ErrBadHandshake
	}
	var hs Handshake
	if f := strings.Fields(lines[0]); len(f) >= 2 {
		hs.Path = f[1]
	}
	var upgrade, connection bool
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.Contains(line, headerKey+":"):
			hs.Key = strings.TrimSpace(line[strings.IndexByte(line, ':')+1:])
		case strings.Contains(line, "Upgrade: websocket"):
			upgrade = true
		case strings.Contains(line, "Connection: Upgrade"):
			connection = true
		}
	}
	if !upgrade || !connection {
		return Handshake{}, ErrMissingUpgrade
	}
	if hs.Key == "" {
		return Handshake{}, ErrMissingKey
	}
	return hs, nil
}

// headerContainsToken reports whether any comma-separated element of the
// named header equals token, ignoring case.
func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, p := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(p), token) {
				return true
			}
		}
	}
	return false
}
