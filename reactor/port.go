// File: reactor/port.go
// Author: momentics <momentics@gmail.com>
//
// Port is the completion queue plus its worker pool.

package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/internal/concurrency"
)

// Callback handles a completion routed by key.
type Callback func(ev Event)

// DefaultCloseLinger bounds how long CloseHandle waits for queued writes.
const DefaultCloseLinger = 2 * time.Second

// Option configures a Port.
type Option func(*Port)

// WithLogger sets the port logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Port) { p.log = l }
}

// WithCloseLinger sets the write flush window used by CloseHandle.
func WithCloseLinger(d time.Duration) Option {
	return func(p *Port) { p.linger = d }
}

// WithCPUPinning binds each worker to its own CPU.
func WithCPUPinning(on bool) Option {
	return func(p *Port) { p.pin = on }
}

// Stats is a snapshot of port counters.
type Stats struct {
	Driver     string `json:"driver"`
	Workers    int    `json:"workers"`
	Queued     int    `json:"queued"`
	Posted     uint64 `json:"posted"`
	Dispatched uint64 `json:"dispatched"`
	Panics     uint64 `json:"panics"`
}

// Port multiplexes asynchronous socket operations onto a fixed worker pool.
type Port struct {
	driver Driver
	log    zerolog.Logger
	linger time.Duration
	pin    bool

	queue *concurrency.Queue[Event]
	keys  sync.Map // handle id -> completion key

	mu       sync.Mutex
	running  atomic.Bool
	stopped  bool
	nworkers int
	wg       sync.WaitGroup

	cbMu         sync.RWMutex
	onConnection Callback
	onRead       Callback
	onWrite      Callback

	posted     atomic.Uint64
	dispatched atomic.Uint64
	panics     atomic.Uint64
}

// New creates a port backed by driver and starts the driver.
func New(driver Driver, opts ...Option) (*Port, error) {
	if driver == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "reactor: nil driver")
	}
	p := &Port{
		driver: driver,
		log:    zerolog.Nop(),
		linger: DefaultCloseLinger,
		queue:  concurrency.NewQueue[Event](),
	}
	for _, o := range opts {
		o(p)
	}
	if err := driver.Start(p.post); err != nil {
		return nil, fmt.Errorf("reactor: start %s driver: %w", driver.Name(), err)
	}
	return p, nil
}

// Driver returns the underlying driver.
func (p *Port) Driver() Driver { return p.driver }

// Listen opens a listening socket and associates it with KeyConnection.
func (p *Port) Listen(network, addr string) (Handle, error) {
	h, err := p.driver.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	if err := p.Associate(h, KeyConnection); err != nil {
		_ = p.driver.CloseHandle(h, 0)
		return nil, err
	}
	return h, nil
}

// Associate registers h with the driver and records its completion key.
func (p *Port) Associate(h Handle, key uintptr) error {
	if p.isStopped() {
		return ErrPortClosed
	}
	if err := p.driver.Register(h); err != nil {
		return err
	}
	p.keys.Store(h.ID(), key)
	return nil
}

// SetConnectionCallback routes KeyConnection completions to cb.
func (p *Port) SetConnectionCallback(cb Callback) {
	p.cbMu.Lock()
	p.onConnection = cb
	p.cbMu.Unlock()
}

// SetReadCallback routes KeyRead completions to cb.
func (p *Port) SetReadCallback(cb Callback) {
	p.cbMu.Lock()
	p.onRead = cb
	p.cbMu.Unlock()
}

// SetWriteCallback routes KeyWrite completions to cb.
func (p *Port) SetWriteCallback(cb Callback) {
	p.cbMu.Lock()
	p.onWrite = cb
	p.cbMu.Unlock()
}

// Run starts n workers; n <= 0 selects runtime.NumCPU().
func (p *Port) Run(n int) error {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPortClosed
	}
	if !p.running.CompareAndSwap(false, true) {
		return api.ErrAlreadyRunning
	}
	p.nworkers = n
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(i)
	}
	p.log.Debug().Int("workers", n).Str("driver", p.driver.Name()).Msg("completion port running")
	return nil
}

// Post enqueues ev for dispatch.
func (p *Port) Post(ev Event) error {
	return p.post(ev)
}

func (p *Port) post(ev Event) error {
	if ev.Key == 0 && ev.Op != nil {
		ev.Key = ev.Op.Key
	}
	if !p.queue.Push(ev) {
		return ErrPortClosed
	}
	p.posted.Add(1)
	return nil
}

// Accept issues an asynchronous accept on ln.
func (p *Port) Accept(ln Handle, op *Operation) error {
	if p.isStopped() {
		return ErrPortClosed
	}
	op.Kind = OpAccept
	op.Accepted = nil
	return p.driver.Accept(ln, op)
}

// Read issues an asynchronous read on h into op.Buf.
func (p *Port) Read(h Handle, op *Operation) error {
	if p.isStopped() {
		return ErrPortClosed
	}
	op.Kind = OpRead
	if op.Key == 0 {
		op.Key = p.keyOf(h)
	}
	return p.driver.Read(h, op)
}

// Write issues an asynchronous write of op.Buf on h.
func (p *Port) Write(h Handle, op *Operation) error {
	if p.isStopped() {
		return ErrPortClosed
	}
	op.Kind = OpWrite
	op.off = 0
	if op.Key == 0 {
		op.Key = p.keyOf(h)
	}
	return p.driver.Write(h, op)
}

// CloseHandle flushes h for up to the configured linger and closes it.
func (p *Port) CloseHandle(h Handle) error {
	p.keys.Delete(h.ID())
	return p.driver.CloseHandle(h, p.linger)
}

func (p *Port) keyOf(h Handle) uintptr {
	if v, ok := p.keys.Load(h.ID()); ok {
		return v.(uintptr)
	}
	return 0
}

func (p *Port) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Stop wakes every worker with a sentinel, joins them, closes the driver,
// and dispatches whatever completions were still queued. Safe to call
// more than once.
func (p *Port) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	wasRunning := p.running.Swap(false)
	n := p.nworkers
	p.mu.Unlock()

	if wasRunning {
		for i := 0; i < n; i++ {
			p.queue.PushForce(Event{})
		}
		p.wg.Wait()
	}

	err := p.driver.Close()
	p.queue.Close()
	for {
		ev, ok := p.queue.TryPop()
		if !ok {
			break
		}
		if !ev.isSentinel() {
			p.dispatch(ev)
		}
	}
	p.log.Debug().Str("driver", p.driver.Name()).Msg("completion port stopped")
	return err
}

// Stats returns a snapshot of port counters.
func (p *Port) Stats() Stats {
	p.mu.Lock()
	n := p.nworkers
	if !p.running.Load() {
		n = 0
	}
	p.mu.Unlock()
	return Stats{
		Driver:     p.driver.Name(),
		Workers:    n,
		Queued:     p.queue.Len(),
		Posted:     p.posted.Load(),
		Dispatched: p.dispatched.Load(),
		Panics:     p.panics.Load(),
	}
}

func (p *Port) worker(id int) {
	defer p.wg.Done()
	if p.pin {
		if err := concurrency.PinCurrentThread(id); err != nil {
			p.log.Warn().Err(err).Int("worker", id).Msg("cpu pinning failed")
		}
		defer concurrency.UnpinCurrentThread()
	}
	for {
		ev := p.queue.Pop()
		if ev.isSentinel() {
			if !p.running.Load() {
				return
			}
			continue
		}
		p.dispatch(ev)
	}
}

// dispatch delivers one completion, recovering from callback panics so a
// faulty handler cannot take a worker down.
func (p *Port) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.log.Error().Interface("panic", r).Uint64("key", uint64(ev.Key)).Msg("completion handler panicked")
		}
	}()
	p.dispatched.Add(1)

	if ev.Op != nil && ev.Op.Owner != nil {
		ev.Op.Owner.Complete(ev)
		return
	}

	var cb Callback
	p.cbMu.RLock()
	switch ev.Key {
	case KeyConnection:
		cb = p.onConnection
	case KeyRead:
		cb = p.onRead
	case KeyWrite:
		cb = p.onWrite
	}
	p.cbMu.RUnlock()

	if cb == nil {
		if ev.Op != nil && ev.Op.Kind == OpWrite {
			ev.Op.Release()
		}
		return
	}
	cb(ev)
}
