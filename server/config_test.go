// File: server/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/momentics/iocp-ws/api"
	"github.com/momentics/iocp-ws/protocol"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iocp-ws.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.HandshakeMode() != protocol.HandshakeNormalized {
		t.Fatal("default handshake should be normalized")
	}
}

func TestApplyFileConfig(t *testing.T) {
	path := writeFile(t, `
listen_addr = "127.0.0.1:9001"
workers = 8
driver = "net"
max_connections = 0
messages_per_second = 2.5
message_burst = 5
close_linger = "250ms"
strict_handshake = true
echo_prefix = ""
`)
	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.MaxConnections = 10
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{"workers": true}); err != nil {
		t.Fatal(err)
	}

	want := DefaultConfig()
	want.ListenAddr = "127.0.0.1:9001"
	want.Driver = "net"
	want.MessagesPerSecond = 2.5
	want.MessageBurst = 5
	want.CloseLinger = 250 * time.Millisecond
	want.StrictHandshake = true
	want.EchoPrefix = ""
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyFileConfigBadDuration(t *testing.T) {
	fc := FileConfig{CloseLinger: "soon"}
	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, nil); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestLoadFileConfigErrors(t *testing.T) {
	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: %v", err)
	}
	if _, err := LoadFileConfig(writeFile(t, "workers = [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnvConfig(t *testing.T) {
	t.Setenv("IOCPWS_LISTEN_ADDR", ":7000")
	t.Setenv("IOCPWS_WORKERS", "3")
	t.Setenv("IOCPWS_MAX_FRAME_SIZE", "1024")
	t.Setenv("IOCPWS_MESSAGES_PER_SECOND", "10")
	t.Setenv("IOCPWS_STRICT_HANDSHAKE", "1")
	t.Setenv("IOCPWS_LOG_LEVEL", "debug")
	t.Setenv("IOCPWS_ECHO_PREFIX", "env: ")

	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	if err := ApplyEnvConfig(&cfg, map[string]bool{"log-level": true}); err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":7000" || cfg.Workers != 3 || cfg.MaxFrameSize != 1024 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MessagesPerSecond != 10 || !cfg.StrictHandshake || cfg.EchoPrefix != "env: " {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("changed flag overridden: log level = %q", cfg.LogLevel)
	}
}

func TestApplyEnvConfigErrors(t *testing.T) {
	for key, val := range map[string]string{
		"IOCPWS_WORKERS":             "many",
		"IOCPWS_MAX_FRAME_SIZE":      "-1",
		"IOCPWS_MESSAGES_PER_SECOND": "fast",
		"IOCPWS_CLOSE_LINGER":        "later",
	} {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			cfg := DefaultConfig()
			if err := ApplyEnvConfig(&cfg, nil); err == nil {
				t.Fatalf("%s=%s accepted", key, val)
			}
		})
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	path := writeFile(t, `
listen_addr = ":1111"
workers = 6
log_level = "error"
`)
	t.Setenv("IOCPWS_WORKERS", "7")

	base := DefaultConfig()
	base.ListenAddr = ":2222" // set by a flag
	cfg, err := LoadConfig(base, path, map[string]bool{"listen": true})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":2222" {
		t.Errorf("flag lost: listen = %q", cfg.ListenAddr)
	}
	if cfg.Workers != 7 {
		t.Errorf("env lost: workers = %d", cfg.Workers)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("file lost: log level = %q", cfg.LogLevel)
	}
}

func TestLoadConfigInvalidLeavesBase(t *testing.T) {
	path := writeFile(t, `driver = "iocp"`)
	base := DefaultConfig()
	cfg, err := LoadConfig(base, path, nil)
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	if cfg.Driver != base.Driver {
		t.Fatalf("driver = %q", cfg.Driver)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty listen", func(c *Config) { c.ListenAddr = "" }, "listen_addr"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"driver", func(c *Config) { c.Driver = "kqueue" }, "driver"},
		{"frame too large", func(c *Config) { c.MaxFrameSize = protocol.MaxFrameSize + 1 }, "max_frame_size"},
		{"zero frame", func(c *Config) { c.MaxFrameSize = 0 }, "max_frame_size"},
		{"read buffer", func(c *Config) { c.ReadBufferMin = 0 }, "read_buffer_min"},
		{"negative max conns", func(c *Config) { c.MaxConnections = -1 }, "max_connections"},
		{"negative rate", func(c *Config) { c.MessagesPerSecond = -1 }, "messages_per_second"},
		{"log level", func(c *Config) { c.LogLevel = "chatty" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, api.ErrInvalidArgument) {
				t.Fatalf("err = %v", err)
			}
			var ae *api.Error
			if !errors.As(err, &ae) || ae.Context["field"] != tc.field {
				t.Fatalf("field = %v, want %s", ae, tc.field)
			}
		})
	}
}

func TestValidateDerivesBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MessagesPerSecond = 0.5
	cfg.Driver = "EPOLL"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.MessageBurst != 1 || cfg.Driver != "epoll" {
		t.Fatalf("burst = %d driver = %q", cfg.MessageBurst, cfg.Driver)
	}
}
