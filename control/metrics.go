// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics collector for system-level monitoring.
// Counters are lock-free after first use; probes are sampled on snapshot.

package control

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRegistry holds named counters and debug probes.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	probes   map[string]func() any
	updated  atomic.Int64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*atomic.Int64),
		probes:   make(map[string]func() any),
	}
}

func (mr *MetricsRegistry) counter(key string) *atomic.Int64 {
	mr.mu.RLock()
	c, ok := mr.counters[key]
	mr.mu.RUnlock()
	if ok {
		return c
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if c, ok = mr.counters[key]; !ok {
		c = new(atomic.Int64)
		mr.counters[key] = c
	}
	return c
}

// Add increments counter key by delta and returns the new value.
func (mr *MetricsRegistry) Add(key string, delta int64) int64 {
	v := mr.counter(key).Add(delta)
	mr.updated.Store(time.Now().UnixNano())
	return v
}

// Set sets or updates a counter.
func (mr *MetricsRegistry) Set(key string, value int64) {
	mr.counter(key).Store(value)
	mr.updated.Store(time.Now().UnixNano())
}

// Get returns the value of counter key, zero if never touched.
func (mr *MetricsRegistry) Get(key string) int64 {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	if c, ok := mr.counters[key]; ok {
		return c.Load()
	}
	return 0
}

// RegisterProbe inserts a named debug hook sampled on every snapshot.
func (mr *MetricsRegistry) RegisterProbe(name string, fn func() any) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.probes[name] = fn
}

// Updated reports the time of the last counter change.
func (mr *MetricsRegistry) Updated() time.Time {
	ns := mr.updated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// GetSnapshot returns counters and probe outputs in one map. A probe
// sharing a counter's name wins.
func (mr *MetricsRegistry) GetSnapshot() map[string]any {
	mr.mu.RLock()
	out := make(map[string]any, len(mr.counters)+len(mr.probes))
	for k, c := range mr.counters {
		out[k] = c.Load()
	}
	probes := make(map[string]func() any, len(mr.probes))
	for k, fn := range mr.probes {
		probes[k] = fn
	}
	mr.mu.RUnlock()

	for k, fn := range probes {
		out[k] = fn()
	}
	return out
}
