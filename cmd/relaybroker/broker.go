// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/cmd/relaybroker/cli"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/transport"
)

func brokerCommand() *cli.Command {
	var listenAddress, configPath string

	return &cli.Command{
		Name:    "broker",
		Summary: "run a standalone broker process",
		Usage:   "relaybroker broker [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("broker", pflag.ContinueOnError)
			flags.StringVar(&listenAddress, "listen", "", "address to listen on (overrides config; default :8765)")
			flags.StringVar(&configPath, "config", "", "path to a YAML config file (overrides RELAYBROKER_CONFIG)")
			return flags
		},
		Run: func(args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
			slog.SetDefault(logger)

			cfg, err := loadBrokerConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if listenAddress != "" {
				cfg.ListenAddress = listenAddress
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			listener, err := transport.NewTCPListener(cfg.ListenAddress)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.ListenAddress, err)
			}
			defer listener.Close()

			server := broker.NewServer(cfg, clock.Real(), logger)
			logger.Info("broker listening", "address", listener.Address())

			if err := server.Serve(ctx, listener); err != nil {
				return fmt.Errorf("serve loop: %w", err)
			}
			logger.Info("broker shut down")
			return nil
		},
	}
}

func loadBrokerConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
