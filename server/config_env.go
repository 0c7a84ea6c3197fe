// File: server/config_env.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnvConfig.
const EnvPrefix = "IOCPWS_"

// ApplyEnvConfig applies IOCPWS_* variables. They override the config
// file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(key string) string { return os.Getenv(EnvPrefix + key) }

	s.setString("listen", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("driver", env("DRIVER"), &cfg.Driver)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setString("admin", env("ADMIN_ADDR"), &cfg.AdminAddr)
	if v, ok := os.LookupEnv(EnvPrefix + "ECHO_PREFIX"); ok && !changed["echo-prefix"] {
		cfg.EchoPrefix = v
	}

	s.setBoolFromString("pin-workers", env("PIN_WORKERS"), &cfg.PinWorkers)
	s.setBoolFromString("require-mask", env("REQUIRE_MASK"), &cfg.RequireMask)
	s.setBoolFromString("strict-handshake", env("STRICT_HANDSHAKE"), &cfg.StrictHandshake)

	if err := s.setIntFromString("workers", env("WORKERS"), &cfg.Workers); err != nil {
		return err
	}
	if err := s.setIntFromString("read-buffer-min", env("READ_BUFFER_MIN"), &cfg.ReadBufferMin); err != nil {
		return err
	}
	if err := s.setIntFromString("max-connections", env("MAX_CONNECTIONS"), &cfg.MaxConnections); err != nil {
		return err
	}
	if err := s.setIntFromString("burst", env("MESSAGE_BURST"), &cfg.MessageBurst); err != nil {
		return err
	}
	if err := s.setUint64FromString("max-frame-size", env("MAX_FRAME_SIZE"), &cfg.MaxFrameSize); err != nil {
		return err
	}
	if err := s.setUint64FromString("max-message-size", env("MAX_MESSAGE_SIZE"), &cfg.MaxMessageSize); err != nil {
		return err
	}
	if err := s.setFloatFromString("rate", env("MESSAGES_PER_SECOND"), &cfg.MessagesPerSecond); err != nil {
		return err
	}
	return s.setDuration("close-linger", env("CLOSE_LINGER"), &cfg.CloseLinger)
}

// LoadConfig layers the config file at path (skipped when empty) and the
// environment over base, then validates the result.
func LoadConfig(base Config, path string, changed map[string]bool) (Config, error) {
	cfg := base
	if path != "" {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return base, err
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return base, err
		}
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return base, err
	}
	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}
