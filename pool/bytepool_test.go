package pool_test

import (
	"sync"
	"testing"

	"github.com/momentics/iocp-ws/pool"
)

func TestBytePoolReuse(t *testing.T) {
	p := pool.NewBytePool(4)
	b1 := p.Get(300)
	if cap(b1.B) < 300 {
		t.Fatalf("cap = %d, want >= 300", cap(b1.B))
	}
	b1.B = append(b1.B, "hello"...)
	b1.Release()

	b2 := p.Get(400)
	if len(b2.B) != 0 {
		t.Errorf("reused buffer not reset, len = %d", len(b2.B))
	}
	if cap(b2.B) != 512 {
		t.Errorf("cap = %d, want 512", cap(b2.B))
	}
	st := p.Stats()
	if st.Misses != 1 {
		t.Errorf("misses = %d, want 1", st.Misses)
	}
	if st.InUse != 1 {
		t.Errorf("in use = %d, want 1", st.InUse)
	}
}

func TestBufferReleaseOnce(t *testing.T) {
	p := pool.NewBytePool(4)
	b := p.Get(64)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Release() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("release succeeded %d times, want 1", wins)
	}
	st := p.Stats()
	if st.Puts != 1 || st.InUse != 0 {
		t.Errorf("stats = %+v, want one put and nothing in use", st)
	}
}

func TestBytePoolOversized(t *testing.T) {
	p := pool.NewBytePool(4)
	b := p.Get(4 << 20)
	if cap(b.B) < 4<<20 {
		t.Fatalf("cap = %d", cap(b.B))
	}
	b.Release()
	if st := p.Stats(); st.Oversized != 1 || st.InUse != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBufferOutgrownNotRecycled(t *testing.T) {
	p := pool.NewBytePool(4)
	b := p.Get(10)
	b.B = append(b.B, make([]byte, 1000)...)
	b.Release()

	next := p.Get(10)
	if cap(next.B) != 256 {
		t.Errorf("cap = %d, want fresh 256-byte class buffer", cap(next.B))
	}
}
