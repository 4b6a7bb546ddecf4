// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Command relaybroker-broker runs a standalone broker process: one
// TCP listener, one router, one heartbeat monitor. Producers and
// consumers connect to it directly, or via supervisor.AcquireOrSpawn
// if they'd rather share a broker with whoever got there first.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/lib/process"
	"github.com/relaybroker/relaybroker/lib/version"
	"github.com/relaybroker/relaybroker/transport"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		configPath    string
		showVersion   bool
	)
	flag.StringVar(&listenAddress, "listen", "", "address to listen on (overrides config; default :8765)")
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (overrides RELAYBROKER_CONFIG)")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("relaybroker-broker %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
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
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
