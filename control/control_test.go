package control_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/iocp-ws/control"
)

type settings struct {
	Level string
	Rate  float64
}

func TestConfigStoreSnapshotAndListeners(t *testing.T) {
	cs := control.NewConfigStore(settings{Level: "info"})

	var calls []settings
	cs.OnReload(func(old, cur settings) {
		calls = append(calls, old, cur)
	})

	snap := cs.Get()
	cs.Set(settings{Level: "debug", Rate: 5})
	if snap.Level != "info" {
		t.Fatalf("snapshot mutated: %+v", snap)
	}
	if got := cs.Get(); got.Level != "debug" || got.Rate != 5 {
		t.Fatalf("Get = %+v", got)
	}
	if len(calls) != 2 || calls[0].Level != "info" || calls[1].Level != "debug" {
		t.Fatalf("listener saw %+v", calls)
	}

	next := cs.Update(func(s *settings) { s.Rate = 9 })
	if next.Level != "debug" || next.Rate != 9 || cs.Get().Rate != 9 {
		t.Fatalf("Update = %+v", next)
	}
	if len(calls) != 4 {
		t.Fatalf("listener calls = %d, want 4", len(calls)/2)
	}
}

func TestConfigStoreConcurrentUpdates(t *testing.T) {
	cs := control.NewConfigStore(settings{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cs.Update(func(s *settings) { s.Rate++ })
			_ = cs.Get()
		}()
	}
	wg.Wait()
	if got := cs.Get().Rate; got != 50 {
		t.Fatalf("Rate = %v, want 50", got)
	}
}

func TestMetricsRegistry(t *testing.T) {
	mr := control.NewMetricsRegistry()
	if !mr.Updated().IsZero() {
		t.Fatal("fresh registry reports an update time")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mr.Add("messages_in", 1)
			}
		}()
	}
	wg.Wait()
	mr.Set("connections_active", 3)

	if got := mr.Get("messages_in"); got != 2000 {
		t.Fatalf("messages_in = %d", got)
	}
	if got := mr.Get("missing"); got != 0 {
		t.Fatalf("missing = %d", got)
	}

	mr.RegisterProbe("port", func() any { return "ok" })
	snap := mr.GetSnapshot()
	if snap["messages_in"] != int64(2000) || snap["connections_active"] != int64(3) || snap["port"] != "ok" {
		t.Fatalf("snapshot = %v", snap)
	}
	if mr.Updated().IsZero() {
		t.Fatal("update time not recorded")
	}
}

func TestPlatformProbes(t *testing.T) {
	mr := control.NewMetricsRegistry()
	control.RegisterPlatformProbes(mr)
	if n, ok := mr.GetSnapshot()["platform.cpus"].(int); !ok || n < 1 {
		t.Fatalf("platform.cpus = %v", mr.GetSnapshot()["platform.cpus"])
	}
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "iocp-ws.toml")
	if err := os.WriteFile(path, []byte("workers = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	changed := make(chan struct{}, 8)
	w := control.NewWatcher(path, 50*time.Millisecond, func() {
		fired.Add(1)
		changed <- struct{}{}
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// fsnotify needs the watch installed before writes count.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("workers = 2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
	time.Sleep(200 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("reload fired %d times, want 1", n)
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	w := control.NewWatcher(filepath.Join(t.TempDir(), "nope", "cfg.toml"), 0, func() {}, zerolog.Nop())
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
