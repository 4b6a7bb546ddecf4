// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Command relaybroker-producer-demo stands in for the agent-facing
// side of the system: it attaches to (or spawns) a broker, then
// periodically emits yaps and clarification requests, printing
// whatever a consumer answers. It exists to exercise the client
// library's producer role end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/client"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/lib/process"
	"github.com/relaybroker/relaybroker/lib/version"
	"github.com/relaybroker/relaybroker/supervisor"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		clientID      string
		interval      time.Duration
		replyTimeout  time.Duration
		showVersion   bool
	)
	flag.StringVar(&listenAddress, "broker", ":8765", "broker address to attach to or spawn")
	flag.StringVar(&clientID, "id", "producer-demo", "client id to register with")
	flag.DurationVar(&interval, "interval", 5*time.Second, "how often to emit a yap or clarification")
	flag.DurationVar(&replyTimeout, "reply-timeout", 30*time.Second, "how long to wait for a consumer's answer")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("relaybroker-producer-demo %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	cfg.ListenAddress = listenAddress
	handle, err := supervisor.AcquireOrSpawn(ctx, cfg, clock.Real(), logger)
	if err != nil {
		return fmt.Errorf("acquiring broker: %w", err)
	}
	defer handle.Shutdown()
	logger.Info("broker acquired", "address", handle.Address(), "ownership", handle.Ownership)

	synced := make(chan struct{}, 1)
	c := client.New(client.Config{
		Address:  handle.Address(),
		ClientID: broker.ClientID(clientID),
		Role:     broker.RoleProducer,
		Logger:   logger,
	}, client.EventHandlers{
		OnSync:         func() { synced <- struct{}{} },
		OnDisconnected: func() { logger.Warn("disconnected from broker") },
		OnMaxReconnectAttemptsReached: func() {
			logger.Error("giving up on reconnecting to broker")
			stop()
		},
	})

	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	select {
	case <-synced:
	case <-ctx.Done():
		return ctx.Err()
	}
	logger.Info("registered with broker", "client_id", clientID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	round := 0
	for {
		select {
		case <-ctx.Done():
			<-runDone
			return nil
		case <-ticker.C:
			round++
			if round%2 == 0 {
				emitYap(c, logger, round)
			} else {
				askClarification(ctx, c, logger, replyTimeout, round)
			}
		}
	}
}

func emitYap(c *client.Client, logger *slog.Logger, round int) {
	id, err := c.SendYap(broker.YapPayload{
		Message:   fmt.Sprintf("still working (round %d)", round),
		Mode:      "status",
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Warn("sending yap failed", "error", err)
		return
	}
	logger.Info("sent yap", "id", id)
}

func askClarification(ctx context.Context, c *client.Client, logger *slog.Logger, timeout time.Duration, round int) {
	id, err := c.SendClarification(broker.ClarificationPayload{
		Question:  fmt.Sprintf("which environment should round %d target?", round),
		Urgency:   broker.UrgencyMedium,
		Timestamp: time.Now().UnixMilli(),
		Status:    broker.StatusPending,
	})
	if err != nil {
		logger.Warn("sending clarification failed", "error", err)
		return
	}
	logger.Info("sent clarification", "id", id)

	answer, err := c.AwaitReply(ctx, id, timeout)
	if err != nil {
		logger.Warn("awaiting reply failed", "id", id, "error", err)
		return
	}
	logger.Info("received answer", "id", id, "answer", answer)
}
