// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a completion-port style I/O engine. Socket
// operations are issued asynchronously through a Port; when a Driver
// finishes one it posts an Event to the Port's shared queue and a fixed pool
// of workers dispatches it, either to the Completer that owns the
// operation or to the callback registered for the event's completion key.
//
// Two drivers are provided: an edge-triggered epoll(7) driver on Linux and
// a portable driver built on package net.
package reactor
