// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/relaybroker/relaybroker/cmd/relaybroker/cli"
)

func bothCommand() *cli.Command {
	var (
		listenAddress string
		producerID    string
		consumerID    string
		interval      time.Duration
		replyTimeout  time.Duration
	)

	return &cli.Command{
		Name:    "both",
		Summary: "run a producer and a consumer side by side in one process",
		Usage:   "relaybroker both [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("both", pflag.ContinueOnError)
			flags.StringVar(&listenAddress, "broker", ":8765", "broker address to attach to or spawn")
			flags.StringVar(&producerID, "producer-id", "producer-demo", "client id for the producer half")
			flags.StringVar(&consumerID, "consumer-id", "consumer-demo", "client id for the consumer half")
			flags.DurationVar(&interval, "interval", 5*time.Second, "how often the producer emits a yap or clarification")
			flags.DurationVar(&replyTimeout, "reply-timeout", 30*time.Second, "how long the producer waits for a consumer's answer")
			return flags
		},
		Run: func(args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Both halves attach to (or spawn) the same broker address;
			// whichever runs supervisor.AcquireOrSpawn first ends up
			// owning it, and the other attaches to that instance.
			producerLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})).With("role", "producer")
			consumerLogger := newCommandLogger().With("role", "consumer")

			var wg sync.WaitGroup
			errs := make(chan error, 2)

			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := runProducer(ctx, stop, producerLogger, listenAddress, producerID, interval, replyTimeout); err != nil {
					errs <- err
				}
			}()
			go func() {
				defer wg.Done()
				if err := runConsumer(ctx, stop, consumerLogger, listenAddress, consumerID); err != nil {
					errs <- err
				}
			}()

			wg.Wait()
			close(errs)
			for err := range errs {
				if err != nil && err != context.Canceled {
					return err
				}
			}
			return nil
		},
	}
}
