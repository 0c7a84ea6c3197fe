// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw socket bootstrap for the readiness-based driver: non-blocking
// listening sockets, accept with per-connection options, and sockaddr
// formatting. Linux only; other platforms use package net directly.

package transport
