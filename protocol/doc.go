// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the WebSocket protocol logic (RFC 6455) for iocp-ws.
//
// Includes:
//   - Stateless frame header parsing and frame construction with masking
//   - Close payload encoding and validation
//   - The server side of the opening handshake
//   - Connection, a completion-driven per-socket state machine with
//     fragment reassembly, ping/pong and the close handshake
package protocol
