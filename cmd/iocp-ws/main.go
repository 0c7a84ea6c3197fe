// Command iocp-ws runs the completion-port WebSocket echo server.
// Author: momentics <momentics@gmail.com>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/momentics/iocp-ws/control"
	"github.com/momentics/iocp-ws/internal/admin"
	"github.com/momentics/iocp-ws/internal/logging"
	"github.com/momentics/iocp-ws/server"
)

const longHelp = `iocp-ws is an asynchronous WebSocket server built on a completion port:
a shared completion queue drained by a fixed pool of workers.

Configuration is layered: defaults, then the TOML file given by --config,
then IOCPWS_* environment variables, then explicitly set flags. The file
is watched; log_level, messages_per_second, message_burst, max_connections
and echo_prefix are applied without a restart.`

func main() {
	cfg := server.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "iocp-ws",
		Short:         "Completion-port WebSocket echo server",
		Long:          longHelp,
		Example:       "  iocp-ws --listen :9000 --workers 8\n  iocp-ws --config /etc/iocp-ws.toml",
		Version:       fmt.Sprintf("%s %s/%s", server.Version(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			return run(cfg, cfgPath, changed)
		},
	}

	fs := root.Flags()
	fs.StringVar(&cfgPath, "config", "", "path to TOML config file")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "TCP listen address")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "completion worker count")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "I/O driver: auto, epoll or net")
	fs.BoolVar(&cfg.PinWorkers, "pin-workers", cfg.PinWorkers, "lock each worker to one CPU")
	fs.Uint64Var(&cfg.MaxFrameSize, "max-frame-size", cfg.MaxFrameSize, "largest accepted frame payload in bytes")
	fs.Uint64Var(&cfg.MaxMessageSize, "max-message-size", cfg.MaxMessageSize, "largest reassembled message in bytes")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "connection limit (0 = unlimited)")
	fs.Float64Var(&cfg.MessagesPerSecond, "rate", cfg.MessagesPerSecond, "inbound messages per second per connection (0 = unlimited)")
	fs.IntVar(&cfg.MessageBurst, "burst", cfg.MessageBurst, "inbound message burst per connection")
	fs.DurationVar(&cfg.CloseLinger, "close-linger", cfg.CloseLinger, "how long a closing socket may flush")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	fs.StringVar(&cfg.AdminAddr, "admin", cfg.AdminAddr, "admin HTTP address (empty disables)")
	fs.BoolVar(&cfg.StrictHandshake, "strict-handshake", cfg.StrictHandshake, "match upgrade headers literally")
	fs.StringVar(&cfg.EchoPrefix, "echo-prefix", cfg.EchoPrefix, "prefix prepended to echoed messages")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "iocp-ws:", err)
		os.Exit(1)
	}
}

func run(flagCfg server.Config, cfgPath string, changed map[string]bool) error {
	if cfgPath != "" && !server.FileExists(cfgPath) {
		return fmt.Errorf("config file %s not found", cfgPath)
	}
	cfg, err := server.LoadConfig(flagCfg, cfgPath, changed)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(os.Stderr, cfg.LogFormat)
	if err != nil {
		return err
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	log.Info().Interface("config", cfg).Msg("configuration")

	metrics := control.NewMetricsRegistry()
	control.RegisterPlatformProbes(metrics)

	srv, err := server.New(cfg, server.WithLogger(log), server.WithMetrics(metrics))
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AdminAddr != "" {
		go func() {
			if err := admin.ListenAndServe(ctx, cfg.AdminAddr, srv, log); err != nil {
				log.Error().Err(err).Msg("admin endpoint failed")
			}
		}()
	}

	if cfgPath != "" {
		w := control.NewWatcher(cfgPath, 0, func() { reload(srv, flagCfg, cfgPath, changed, log) }, log)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("received signal, stopping...")

	cancel()
	return srv.Stop()
}

// reload re-reads the file on top of the flag-derived config so explicit
// flags keep precedence.
func reload(srv *server.Server, flagCfg server.Config, cfgPath string, changed map[string]bool, log zerolog.Logger) {
	next, err := server.LoadConfig(flagCfg, cfgPath, changed)
	if err != nil {
		log.Warn().Err(err).Msg("config reload rejected")
		return
	}
	if err := logging.SetLevel(next.LogLevel); err != nil {
		log.Warn().Err(err).Msg("log level not applied")
	}
	if err := srv.Reload(next); err != nil {
		log.Warn().Err(err).Msg("config reload rejected")
	}
}
