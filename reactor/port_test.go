package reactor_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/reactor"
)

// stubDriver accepts every operation and never completes any on its own.
type stubDriver struct {
	mu     sync.Mutex
	post   reactor.PostFunc
	closed bool
	writes []*reactor.Operation
}

type stubHandle uint64

func (h stubHandle) ID() uint64         { return uint64(h) }
func (h stubHandle) LocalAddr() string  { return "local" }
func (h stubHandle) RemoteAddr() string { return "remote" }

func (d *stubDriver) Name() string                        { return "stub" }
func (d *stubDriver) Start(post reactor.PostFunc) error   { d.post = post; return nil }
func (d *stubDriver) Listen(string, string) (reactor.Handle, error) { return stubHandle(1), nil }
func (d *stubDriver) Register(reactor.Handle) error        { return nil }
func (d *stubDriver) Accept(reactor.Handle, *reactor.Operation) error { return nil }
func (d *stubDriver) Read(reactor.Handle, *reactor.Operation) error   { return nil }
func (d *stubDriver) Write(_ reactor.Handle, op *reactor.Operation) error {
	d.mu.Lock()
	d.writes = append(d.writes, op)
	d.mu.Unlock()
	return nil
}
func (d *stubDriver) CloseHandle(reactor.Handle, time.Duration) error { return nil }
func (d *stubDriver) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

type chanCompleter chan reactor.Event

func (c chanCompleter) Complete(ev reactor.Event) { c <- ev }

func waitEvent(t *testing.T, ch <-chan reactor.Event) reactor.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
	}
	return reactor.Event{}
}

func newStubPort(t *testing.T) (*reactor.Port, *stubDriver) {
	t.Helper()
	d := &stubDriver{}
	p, err := reactor.New(d)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, d
}

func TestPortDispatchByKey(t *testing.T) {
	p, _ := newStubPort(t)
	defer p.Stop()

	conns := make(chan reactor.Event, 1)
	reads := make(chan reactor.Event, 1)
	writes := make(chan reactor.Event, 1)
	p.SetConnectionCallback(func(ev reactor.Event) { conns <- ev })
	p.SetReadCallback(func(ev reactor.Event) { reads <- ev })
	p.SetWriteCallback(func(ev reactor.Event) { writes <- ev })

	if err := p.Run(2); err != nil {
		t.Fatalf("Run: %v", err)
	}
	p.Post(reactor.Event{Key: reactor.KeyRead, Bytes: 5})
	p.Post(reactor.Event{Key: reactor.KeyWrite, Bytes: 7})
	p.Post(reactor.Event{Key: reactor.KeyConnection, Bytes: 1})

	if ev := waitEvent(t, reads); ev.Bytes != 5 {
		t.Errorf("read bytes = %d", ev.Bytes)
	}
	if ev := waitEvent(t, writes); ev.Bytes != 7 {
		t.Errorf("write bytes = %d", ev.Bytes)
	}
	if ev := waitEvent(t, conns); ev.Bytes != 1 {
		t.Errorf("connection bytes = %d", ev.Bytes)
	}
}

func TestPortOwnerRouting(t *testing.T) {
	p, _ := newStubPort(t)
	defer p.Stop()

	keyed := make(chan reactor.Event, 1)
	p.SetReadCallback(func(ev reactor.Event) { keyed <- ev })
	owner := make(chanCompleter, 1)
	p.Run(1)

	op := reactor.NewReadOp(make([]byte, 8), owner)
	p.Post(reactor.Event{Op: op, Bytes: 3})

	ev := waitEvent(t, owner)
	if ev.Op != op || ev.Key != reactor.KeyRead {
		t.Errorf("event = %+v", ev)
	}
	select {
	case <-keyed:
		t.Error("owned completion also reached the key callback")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPortRunTwice(t *testing.T) {
	p, _ := newStubPort(t)
	defer p.Stop()
	if err := p.Run(1); err != nil {
		t.Fatal(err)
	}
	if err := p.Run(1); !errors.Is(err, api.ErrAlreadyRunning) {
		t.Fatalf("second Run: %v", err)
	}
}

func TestPortStopJoinsAndIsIdempotent(t *testing.T) {
	p, d := newStubPort(t)
	p.Run(4)
	if got := p.Stats().Workers; got != 4 {
		t.Fatalf("workers = %d", got)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if !d.closed {
		t.Error("driver not closed")
	}
	if got := p.Stats().Workers; got != 0 {
		t.Errorf("workers after stop = %d", got)
	}
	if err := p.Post(reactor.Event{Key: reactor.KeyRead}); !errors.Is(err, reactor.ErrPortClosed) {
		t.Errorf("Post after Stop: %v", err)
	}
	if err := p.Read(stubHandle(1), reactor.NewReadOp(make([]byte, 1), nil)); !errors.Is(err, reactor.ErrPortClosed) {
		t.Errorf("Read after Stop: %v", err)
	}
	if err := p.Run(1); !errors.Is(err, reactor.ErrPortClosed) {
		t.Errorf("Run after Stop: %v", err)
	}
}

func TestPortStopDrainsQueued(t *testing.T) {
	p, _ := newStubPort(t)
	var n atomic.Int32
	p.SetReadCallback(func(reactor.Event) { n.Add(1) })
	for i := 0; i < 3; i++ {
		p.Post(reactor.Event{Key: reactor.KeyRead, Bytes: i + 1})
	}
	p.Stop()
	if n.Load() != 3 {
		t.Fatalf("drained %d events, want 3", n.Load())
	}
}

func TestPortRecoversFromPanic(t *testing.T) {
	p, _ := newStubPort(t)
	defer p.Stop()
	got := make(chan reactor.Event, 1)
	p.SetReadCallback(func(ev reactor.Event) {
		if ev.Bytes == 1 {
			panic("boom")
		}
		got <- ev
	})
	p.Run(1)
	p.Post(reactor.Event{Key: reactor.KeyRead, Bytes: 1})
	p.Post(reactor.Event{Key: reactor.KeyRead, Bytes: 2})
	if ev := waitEvent(t, got); ev.Bytes != 2 {
		t.Fatalf("bytes = %d", ev.Bytes)
	}
	if p.Stats().Panics != 1 {
		t.Errorf("panics = %d", p.Stats().Panics)
	}
}

func TestPortUnroutedWriteReleased(t *testing.T) {
	p, _ := newStubPort(t)
	var released atomic.Int32
	op := reactor.NewWriteOp([]byte("x"), nil, func() bool { released.Add(1); return true })
	p.Post(reactor.Event{Op: op, Bytes: 1})
	p.Stop()
	if released.Load() != 1 {
		t.Fatalf("released %d times", released.Load())
	}
	if op.Release() {
		t.Error("second Release reported success")
	}
}

func TestPortCallbackSwapWhileRunning(t *testing.T) {
	p, _ := newStubPort(t)
	defer p.Stop()
	p.Run(2)

	first := make(chan reactor.Event, 1)
	p.SetReadCallback(func(ev reactor.Event) { first <- ev })
	p.Post(reactor.Event{Key: reactor.KeyRead, Bytes: 1})
	waitEvent(t, first)

	second := make(chan reactor.Event, 1)
	p.SetReadCallback(func(ev reactor.Event) { second <- ev })
	p.Post(reactor.Event{Key: reactor.KeyRead, Bytes: 2})
	if ev := waitEvent(t, second); ev.Bytes != 2 {
		t.Fatalf("bytes = %d", ev.Bytes)
	}
}

func TestNewDriverNames(t *testing.T) {
	if _, err := reactor.NewDriver("bogus"); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("bogus driver: %v", err)
	}
	d, err := reactor.NewDriver("net")
	if err != nil || d.Name() != "net" {
		t.Fatalf("net driver: %v, %v", d, err)
	}
}
