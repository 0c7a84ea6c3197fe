// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload propagation.

package control

import (
	"sync"
	"sync/atomic"
)

// ConfigStore holds the live configuration value. Readers get an immutable
// snapshot; writers replace it whole and notify listeners.
type ConfigStore[T any] struct {
	cur atomic.Pointer[T]

	mu        sync.Mutex
	listeners []func(old, cur T)
}

// NewConfigStore initializes a store holding initial.
func NewConfigStore[T any](initial T) *ConfigStore[T] {
	cs := &ConfigStore[T]{}
	cs.cur.Store(&initial)
	return cs
}

// Get returns the current snapshot.
func (cs *ConfigStore[T]) Get() T {
	return *cs.cur.Load()
}

// Set replaces the snapshot and runs listeners synchronously in
// registration order. Set calls are serialized.
func (cs *ConfigStore[T]) Set(v T) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	old := *cs.cur.Load()
	cs.cur.Store(&v)
	for _, fn := range cs.listeners {
		fn(old, v)
	}
}

// Update applies fn to a copy of the current snapshot and stores the result.
func (cs *ConfigStore[T]) Update(fn func(*T)) T {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	old := *cs.cur.Load()
	next := old
	fn(&next)
	cs.cur.Store(&next)
	for _, l := range cs.listeners {
		l(old, next)
	}
	return next
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore[T]) OnReload(fn func(old, cur T)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
