// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling for the completion engine. Write operations borrow a
// Buffer for the lifetime of one asynchronous send and hand it back exactly
// once when the completion is observed. Free lists are bucketed by
// power-of-two size classes and backed by buffered channels.
package pool
