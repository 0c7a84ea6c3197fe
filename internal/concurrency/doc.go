// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for the completion engine: the blocking FIFO that
// backs a completion port and optional pinning of worker threads to CPUs.
package concurrency
