package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/control"
	"github.com/momentics/iocp-ws/server"
)

type fakeSource struct {
	metrics *control.MetricsRegistry
	cfg     server.Config
}

func (f *fakeSource) Info() api.ServiceInfo {
	return api.ServiceInfo{Name: "iocp-ws", Version: "test", StartedAt: time.Now().Add(-time.Minute)}
}
func (f *fakeSource) Connections() int                  { return 3 }
func (f *fakeSource) Metrics() *control.MetricsRegistry { return f.metrics }
func (f *fakeSource) Config() server.Config             { return f.cfg }

func newFake() *fakeSource {
	mr := control.NewMetricsRegistry()
	mr.Set("connections_active", 3)
	mr.Add("messages_in", 42)
	mr.RegisterProbe("port", func() any { return map[string]int{"queued": 0} })
	return &fakeSource{metrics: mr, cfg: server.DefaultConfig()}
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("%s: body %q is not JSON", path, rec.Body.String())
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	code, body := get(t, Router(newFake()), "/healthz")
	if code != http.StatusOK || body["status"] != "ok" || body["connections"] != float64(3) {
		t.Fatalf("%d %v", code, body)
	}
}

func TestStats(t *testing.T) {
	r := Router(newFake())
	code, body := get(t, r, "/stats")
	if code != http.StatusOK || body["messages_in"] != float64(42) || body["port"] == nil {
		t.Fatalf("%d %v", code, body)
	}

	code, body = get(t, r, "/stats/messages_in")
	if code != http.StatusOK || body["messages_in"] != float64(42) {
		t.Fatalf("%d %v", code, body)
	}
	if code, _ = get(t, r, "/stats/nope"); code != http.StatusNotFound {
		t.Fatalf("unknown metric: %d", code)
	}
}

func TestConfigAndInfo(t *testing.T) {
	r := Router(newFake())
	code, body := get(t, r, "/config")
	if code != http.StatusOK || body["listen_addr"] != ":8080" || body["echo_prefix"] != server.DefaultEchoPrefix {
		t.Fatalf("%d %v", code, body)
	}
	code, body = get(t, r, "/info")
	if code != http.StatusOK || body["name"] != "iocp-ws" || body["uptime"] == "" {
		t.Fatalf("%d %v", code, body)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, newFake(), zerolog.Nop()) }()

	var resp *http.Response
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
