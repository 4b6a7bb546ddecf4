// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/codec"
)

// outboxCapacity bounds a session's outbound write queue. A slow
// reader (a human who has stepped away from the terminal) backs up
// here rather than blocking the router; once full, further writes are
// dropped rather than growing without bound.
const outboxCapacity = 256

// Session is one accepted connection: its identity, role, and the
// machinery that keeps writes off the router's critical path. A
// Session owns its net.Conn exclusively; the [Registry] holds a
// lookup reference, never ownership.
type Session struct {
	ID   ClientID
	Role Role

	conn    net.Conn
	encoder *codec.Encoder
	outbox  chan Envelope
	logger  *slog.Logger
	clock   clock.Clock

	mu       sync.Mutex
	lastSeen time.Time
	closed   bool

	doneCh chan struct{}
}

// newSession wraps an already-registered connection. The caller must
// call runWriter to start the write-queue drain loop.
func newSession(id ClientID, role Role, conn net.Conn, clk clock.Clock, logger *slog.Logger) *Session {
	return &Session{
		ID:       id,
		Role:     role,
		conn:     conn,
		encoder:  codec.NewEncoder(conn),
		outbox:   make(chan Envelope, outboxCapacity),
		logger:   logger,
		clock:    clk,
		lastSeen: clk.Now(),
		doneCh:   make(chan struct{}),
	}
}

// touch updates lastSeen to now. Called by the session's read loop on
// every successfully decoded envelope, including heartbeats.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = s.clock.Now()
	s.mu.Unlock()
}

// LastSeen returns the timestamp of the most recently received
// envelope on this session.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Send enqueues env for delivery on the session's writer goroutine.
// Returns false without blocking if the outbox is full or the session
// is already closed — the caller (always the router) never blocks on
// a slow peer. The closed check and the channel send share s.mu so a
// concurrent Close can never close the channel out from under a
// send in flight.
func (s *Session) Send(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.outbox <- env:
		return true
	default:
		s.logger.Warn("session outbox full, dropping envelope",
			"client_id", s.ID,
			"envelope_type", env.Type,
		)
		return false
	}
}

// runWriter drains the outbox and encodes each envelope onto the
// connection, one at a time, until the outbox is closed or a write
// fails. It is the only goroutine that ever calls Write on the
// underlying connection, so envelopes are never interleaved even
// though Send may be called from many goroutines.
func (s *Session) runWriter(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case env, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.encoder.Encode(env); err != nil {
				s.logger.Debug("session write failed", "client_id", s.ID, "error", err)
				s.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close closes the underlying connection and stops the writer. Safe
// to call more than once and from multiple goroutines.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.outbox)
	s.mu.Unlock()

	return s.conn.Close()
}

// Done returns a channel closed once the writer goroutine has
// exited, i.e. once no more bytes will be written to the connection.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}
