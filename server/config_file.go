// File: server/config_file.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config in TOML form. Durations are strings; pointer
// fields distinguish an explicit zero from an absent key.
type FileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	Workers           *int     `toml:"workers"`
	Driver            string   `toml:"driver"`
	PinWorkers        *bool    `toml:"pin_workers"`
	MaxFrameSize      uint64   `toml:"max_frame_size"`
	MaxMessageSize    uint64   `toml:"max_message_size"`
	ReadBufferMin     *int     `toml:"read_buffer_min"`
	RequireMask       *bool    `toml:"require_mask"`
	StrictHandshake   *bool    `toml:"strict_handshake"`
	MaxConnections    *int     `toml:"max_connections"`
	MessagesPerSecond *float64 `toml:"messages_per_second"`
	MessageBurst      *int     `toml:"message_burst"`
	CloseLinger       string   `toml:"close_linger"`
	LogLevel          string   `toml:"log_level"`
	LogFormat         string   `toml:"log_format"`
	AdminAddr         string   `toml:"admin_addr"`
	EchoPrefix        *string  `toml:"echo_prefix"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// ApplyFileConfig copies file values into cfg, leaving keys whose flag is
// in changed untouched.
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setInt("workers", fc.Workers, &cfg.Workers)
	s.setString("driver", fc.Driver, &cfg.Driver)
	s.setBool("pin-workers", fc.PinWorkers, &cfg.PinWorkers)
	s.setUint64("max-frame-size", fc.MaxFrameSize, &cfg.MaxFrameSize)
	s.setUint64("max-message-size", fc.MaxMessageSize, &cfg.MaxMessageSize)
	s.setInt("read-buffer-min", fc.ReadBufferMin, &cfg.ReadBufferMin)
	s.setBool("require-mask", fc.RequireMask, &cfg.RequireMask)
	s.setBool("strict-handshake", fc.StrictHandshake, &cfg.StrictHandshake)
	s.setInt("max-connections", fc.MaxConnections, &cfg.MaxConnections)
	s.setFloat("rate", fc.MessagesPerSecond, &cfg.MessagesPerSecond)
	s.setInt("burst", fc.MessageBurst, &cfg.MessageBurst)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("admin", fc.AdminAddr, &cfg.AdminAddr)
	if fc.EchoPrefix != nil && !changed["echo-prefix"] {
		cfg.EchoPrefix = *fc.EchoPrefix
	}

	return s.setDuration("close-linger", fc.CloseLinger, &cfg.CloseLinger)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
