// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import (
	"math/bits"
	"sync/atomic"
)

const (
	minClassShift = 8  // 256 B
	maxClassShift = 20 // 1 MiB
	numClasses    = maxClassShift - minClassShift + 1

	defaultClassDepth = 256
)

// Stats is a snapshot of pool activity.
type Stats struct {
	Gets      uint64 `json:"gets"`
	Puts      uint64 `json:"puts"`
	Misses    uint64 `json:"misses"`
	Oversized uint64 `json:"oversized"`
	InUse     int64  `json:"in_use"`
}

// BytePool hands out Buffers whose backing arrays are recycled by size class.
// Requests above the largest class are allocated directly and dropped on
// release.
type BytePool struct {
	classes [numClasses]chan []byte

	gets      atomic.Uint64
	puts      atomic.Uint64
	misses    atomic.Uint64
	oversized atomic.Uint64
	inUse     atomic.Int64
}

// NewBytePool creates a pool keeping at most depth idle buffers per class.
// depth <= 0 selects the default.
func NewBytePool(depth int) *BytePool {
	if depth <= 0 {
		depth = defaultClassDepth
	}
	p := &BytePool{}
	for i := range p.classes {
		p.classes[i] = make(chan []byte, depth)
	}
	return p
}

var defaultPool = NewBytePool(0)

// Default returns the process-wide pool.
func Default() *BytePool { return defaultPool }

// classFor returns the class index for size, or -1 if it exceeds the largest class.
func classFor(size int) int {
	if size <= 1<<minClassShift {
		return 0
	}
	shift := bits.Len(uint(size - 1))
	if shift > maxClassShift {
		return -1
	}
	return shift - minClassShift
}

// Get returns a Buffer with len(B) == 0 and cap(B) >= size.
func (p *BytePool) Get(size int) *Buffer {
	p.gets.Add(1)
	p.inUse.Add(1)
	class := classFor(size)
	if class < 0 {
		p.oversized.Add(1)
		return &Buffer{B: make([]byte, 0, size), pool: p, class: -1}
	}
	select {
	case b := <-p.classes[class]:
		return &Buffer{B: b[:0], pool: p, class: class}
	default:
		p.misses.Add(1)
		return &Buffer{B: make([]byte, 0, 1<<(class+minClassShift)), pool: p, class: class}
	}
}

func (p *BytePool) put(b []byte, class int) {
	p.puts.Add(1)
	p.inUse.Add(-1)
	if class < 0 {
		return
	}
	select {
	case p.classes[class] <- b:
	default:
	}
}

// Stats returns a snapshot of pool counters.
func (p *BytePool) Stats() Stats {
	return Stats{
		Gets:      p.gets.Load(),
		Puts:      p.puts.Load(),
		Misses:    p.misses.Load(),
		Oversized: p.oversized.Load(),
		InUse:     p.inUse.Load(),
	}
}

// Buffer is a pooled byte slice with exactly-once release.
type Buffer struct {
	B []byte

	pool     *BytePool
	class    int
	released atomic.Bool
}

// Bytes returns the current contents.
func (b *Buffer) Bytes() []byte { return b.B }

// Release returns the backing array to its pool. Only the first call has
// any effect; it reports whether this call performed the release.
func (b *Buffer) Release() bool {
	if !b.released.CompareAndSwap(false, true) {
		return false
	}
	buf := b.B
	b.B = nil
	// Appends may have outgrown the class; only recycle arrays that still fit it.
	if b.class >= 0 && cap(buf) != 1<<(b.class+minClassShift) {
		b.pool.put(nil, -1)
		return true
	}
	b.pool.put(buf, b.class)
	return true
}
