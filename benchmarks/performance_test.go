// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for iocp-ws components.

package benchmarks

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/momentics/iocp-ws/internal/concurrency"
	"github.com/momentics/iocp-ws/pool"
	"github.com/momentics/iocp-ws/protocol"
	"github.com/momentics/iocp-ws/reactor"
	"github.com/momentics/iocp-ws/server"
)

// BenchmarkBufferPoolAllocation tests buffer pool allocation performance.
func BenchmarkBufferPoolAllocation(b *testing.B) {
	p := pool.NewBytePool(256)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.Get(4096)
			buf.Release()
		}
	})
}

// BenchmarkCompletionQueue measures push/pop through the shared queue.
func BenchmarkCompletionQueue(b *testing.B) {
	q := concurrency.NewQueue[reactor.Event]()
	ev := reactor.Event{Key: reactor.KeyRead, Bytes: 1}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			q.Push(ev)
			q.Pop()
		}
	})
}

// BenchmarkFrameEncode measures building a masked 1 KiB frame.
func BenchmarkFrameEncode(b *testing.B) {
	payload := make([]byte, 1024)
	dst := make([]byte, 0, protocol.MaxHeaderSize+len(payload))
	b.SetBytes(int64(len(payload)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := protocol.AppendFrame(dst[:0], protocol.OpBinary, payload, true); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFrameDecode measures header parsing plus unmasking.
func BenchmarkFrameDecode(b *testing.B) {
	frame, err := protocol.CreateFrame(protocol.OpBinary, make([]byte, 1024), true)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(1024)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, ok, err := protocol.ParseHeader(frame)
		if err != nil || !ok {
			b.Fatal(ok, err)
		}
		if _, err := protocol.DecodePayload(h, frame[protocol.HeaderSize(h):]); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkEchoRoundTrip measures one message through a running server.
func BenchmarkEchoRoundTrip(b *testing.B) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.CloseLinger = 100 * time.Millisecond
	srv, err := server.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		b.Fatal(err)
	}
	defer srv.Stop()

	c, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/", nil)
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()
	msg := []byte("benchmark payload")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			b.Fatal(err)
		}
		if _, _, err := c.ReadMessage(); err != nil {
			b.Fatal(err)
		}
	}
}
