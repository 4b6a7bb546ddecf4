// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaybroker/relaybroker/lib/clock"
)

// Monitor sweeps the registry once per heartbeat interval and force-
// closes any session whose last received envelope is older than
// clientTimeout. It only ever calls a session's own Close; the
// server's connection handler then observes the closed connection and
// reports SessionGone to the router. The monitor never touches router
// state, so a slow sweep can never block routing.
type Monitor struct {
	registry *Registry
	logger   *slog.Logger

	heartbeatInterval time.Duration
	clientTimeout     time.Duration
}

// NewMonitor constructs a Monitor. Call Run in its own goroutine.
func NewMonitor(registry *Registry, logger *slog.Logger, heartbeatInterval, clientTimeout time.Duration) *Monitor {
	return &Monitor{
		registry:          registry,
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		clientTimeout:     clientTimeout,
	}
}

// Run sweeps on a ticker until ctx is cancelled. clk drives the ticker
// so tests can advance time deterministically.
func (m *Monitor) Run(ctx context.Context, clk clock.Clock) {
	ticker := clk.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(ctx, clk.Now())
		case <-ctx.Done():
			return
		}
	}
}

// sweep force-closes every session that has gone quiet for longer
// than clientTimeout. Closing the session is enough to trigger the
// server's read loop to observe the closed connection and report
// SessionGone through the normal disconnect path — the monitor itself
// does not call Router.SessionGone, so there is exactly one place
// that does (the server's connection handler), regardless of whether
// the disconnect was client-initiated or monitor-forced.
func (m *Monitor) sweep(ctx context.Context, now time.Time) {
	for _, sessions := range [][]*Session{m.registry.Producers(), m.registry.Consumers()} {
		for _, session := range sessions {
			if now.Sub(session.LastSeen()) > m.clientTimeout {
				m.logger.Info("session timed out, closing",
					"client_id", session.ID,
					"role", session.Role,
					"last_seen", session.LastSeen(),
				)
				session.Close()
			}
		}
	}
}
