// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Command relaybroker-consumer-demo stands in for the human-operated
// terminal front end: it attaches to (or spawns) a broker, prints
// yaps as they arrive, and prompts on stdin for an answer to each
// clarification request in turn. It exists to exercise the client
// library's consumer role end to end.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/client"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/lib/process"
	"github.com/relaybroker/relaybroker/lib/version"
	"github.com/relaybroker/relaybroker/supervisor"
)

// newCommandLogger picks a text handler for an interactive terminal
// and a JSON handler when stderr is piped or redirected, matching how
// the daemon's own logs are consumed by tooling.
func newCommandLogger() *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

var urgencyStyles = map[broker.Urgency]lipgloss.Style{
	broker.UrgencyHigh:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	broker.UrgencyMedium: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220")),
	broker.UrgencyLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
}

var yapStyle = lipgloss.NewStyle().Faint(true)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddress string
		clientID      string
		showVersion   bool
	)
	flag.StringVar(&listenAddress, "broker", ":8765", "broker address to attach to or spawn")
	flag.StringVar(&clientID, "id", "consumer-demo", "client id to register with")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("relaybroker-consumer-demo %s\n", version.Info())
		return nil
	}

	logger := newCommandLogger()

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

	scanner := bufio.NewScanner(os.Stdin)
	var c *client.Client

	synced := make(chan struct{}, 1)
	c = client.New(client.Config{
		Address:  handle.Address(),
		ClientID: broker.ClientID(clientID),
		Role:     broker.RoleConsumer,
		Logger:   logger,
	}, client.EventHandlers{
		OnSync: func() { synced <- struct{}{} },
		OnClarification: func(payload broker.ClarificationPayload) {
			promptForAnswer(c, scanner, payload, logger)
		},
		OnYap: func(payload broker.YapPayload) {
			fmt.Println(yapStyle.Render(fmt.Sprintf("yap: %s", payload.Message)))
		},
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
	fmt.Println("waiting for clarifications and yaps; Ctrl-C to quit")

	<-ctx.Done()
	<-runDone
	return nil
}

// promptForAnswer prints the question and blocks on stdin for an
// answer. Running synchronously inside the clarification handler
// intentionally serializes prompts one at a time, matching how a
// human at a single terminal actually works.
func promptForAnswer(c *client.Client, scanner *bufio.Scanner, payload broker.ClarificationPayload, logger *slog.Logger) {
	style, ok := urgencyStyles[payload.Urgency]
	if !ok {
		style = lipgloss.NewStyle()
	}
	fmt.Println(style.Render(fmt.Sprintf("[%s] Question: %s", payload.Urgency, payload.Question)))
	if payload.Context != "" {
		fmt.Println(yapStyle.Render(payload.Context))
	}
	fmt.Print("> ")

	if !scanner.Scan() {
		logger.Warn("stdin closed while awaiting an answer", "id", payload.ID)
		return
	}
	answer := scanner.Text()

	if err := c.SendResponse(broker.ResponsePayload{RequestID: payload.ID, Response: &answer}); err != nil {
		logger.Warn("sending response failed", "id", payload.ID, "error", err)
	}
}
