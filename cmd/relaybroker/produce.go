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
	"time"

	"github.com/spf13/pflag"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/client"
	"github.com/relaybroker/relaybroker/cmd/relaybroker/cli"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/supervisor"
)

func produceCommand() *cli.Command {
	var (
		listenAddress string
		clientID      string
		interval      time.Duration
		replyTimeout  time.Duration
	)

	return &cli.Command{
		Name:    "produce",
		Summary: "attach as a producer and emit yaps and clarification requests",
		Usage:   "relaybroker produce [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("produce", pflag.ContinueOnError)
			flags.StringVar(&listenAddress, "broker", ":8765", "broker address to attach to or spawn")
			flags.StringVar(&clientID, "id", "producer-demo", "client id to register with")
			flags.DurationVar(&interval, "interval", 5*time.Second, "how often to emit a yap or clarification")
			flags.DurationVar(&replyTimeout, "reply-timeout", 30*time.Second, "how long to wait for a consumer's answer")
			return flags
		},
		Run: func(args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runProducer(ctx, stop, logger, listenAddress, clientID, interval, replyTimeout)
		},
	}
}

// runProducer attaches to (or spawns) a broker at listenAddress under
// clientID, then emits a yap or clarification every interval until ctx
// is cancelled. Shared by the "produce" and "both" subcommands.
func runProducer(ctx context.Context, stop context.CancelFunc, logger *slog.Logger, listenAddress, clientID string, interval, replyTimeout time.Duration) error {
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
