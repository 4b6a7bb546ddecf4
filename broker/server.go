// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/codec"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/lib/netutil"
	"github.com/relaybroker/relaybroker/transport"
)

// Server accepts connections, runs the registration handshake, and
// wires each session's read path to the [Router]. It owns exactly one
// Router, one Registry, and one Monitor for its lifetime.
type Server struct {
	Registry *Registry
	Router   *Router
	Monitor  *Monitor

	clock  clock.Clock
	logger *slog.Logger
}

// NewServer constructs a Server from cfg. clk defaults to
// clock.Real() when nil; logger defaults to slog.Default() when nil.
func NewServer(cfg config.Config, clk clock.Clock, logger *slog.Logger) *Server {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewRegistry()
	router := NewRouter(registry, clk, logger, cfg.MaxClarificationQueue, cfg.YapBufferCapacity, cfg.YapBufferFlush)
	monitor := NewMonitor(registry, logger, cfg.HeartbeatInterval, cfg.ClientTimeout)

	return &Server{
		Registry: registry,
		Router:   router,
		Monitor:  monitor,
		clock:    clk,
		logger:   logger,
	}
}

// Serve runs the router and monitor goroutines and then blocks on
// listener.Serve, dispatching each accepted connection to
// handleConnection. Returns when ctx is cancelled or the listener
// reports a fatal accept error.
func (s *Server) Serve(ctx context.Context, listener transport.Listener) error {
	go s.Router.Run(ctx)
	go s.Monitor.Run(ctx, s.clock)

	return listener.Serve(ctx, s.handleConnection)
}

// handleConnection runs the registration handshake and, on success,
// the session's read loop until the connection closes.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := codec.NewDecoder(conn)
	preambleEncoder := codec.NewEncoder(conn)

	var first Envelope
	if err := decoder.Decode(&first); err != nil {
		if !errors.Is(err, io.EOF) && !netutil.IsExpectedCloseError(err) {
			s.logger.Debug("connection closed before registration", "error", err)
			preambleEncoder.Encode(errorEnvelope(err.Error()))
		}
		return
	}

	session, ok := s.register(preambleEncoder, conn, first)
	if !ok {
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go session.runWriter(connCtx)

	s.sendSync(session)

	if session.Role == RoleConsumer {
		if err := s.Router.ConsumerRegistered(ctx, session.ID); err != nil {
			s.logger.Debug("registering consumer with router", "client_id", session.ID, "error", err)
		}
	}

	s.readLoop(ctx, session, decoder)

	s.Registry.Remove(session.ID)
	if err := s.Router.SessionGone(ctx, session.ID, session.Role); err != nil {
		s.logger.Debug("notifying router of session departure", "client_id", session.ID, "error", err)
	}
	session.Close()
}

// register validates the first envelope, ensures it is a well-formed
// register carrying an unused client id, and adds a new Session to
// the registry. Registration failures write an error envelope and
// close the connection, per spec section 4.2.
func (s *Server) register(encoder *codec.Encoder, conn net.Conn, first Envelope) (*Session, bool) {
	fail := func(reason string) (*Session, bool) {
		encoder.Encode(Envelope{
			ID:   NewEnvelopeID(),
			Type: KindError,
			Data: mustMarshal(ErrorPayload{Error: reason}),
		})
		return nil, false
	}

	if first.Type != KindRegister {
		return fail(fmt.Sprintf("expected register, got %q", first.Type))
	}
	if err := first.ClientID.Validate(); err != nil {
		return fail(err.Error())
	}
	if !first.ClientType.Valid() {
		return fail(fmt.Sprintf("invalid role %q", first.ClientType))
	}

	session := newSession(first.ClientID, first.ClientType, conn, s.clock, s.logger)
	if !s.Registry.Add(session) {
		return fail(fmt.Sprintf("client id %q already registered", first.ClientID))
	}
	return session, true
}

func (s *Server) sendSync(session *Session) {
	session.Send(Envelope{
		ID:         NewEnvelopeID(),
		Type:       KindSync,
		ClientID:   session.ID,
		ClientType: session.Role,
		Timestamp:  s.clock.Now().UnixMilli(),
		Data:       mustMarshal(SyncPayload{Status: "registered"}),
	})
}

// readLoop processes every envelope after registration until the
// connection closes or errors. Malformed envelopes get an error
// envelope in reply and the connection stays open, per spec section
// 4.1; only registration failures are fatal.
func (s *Server) readLoop(ctx context.Context, session *Session, decoder *codec.Decoder) {
	for {
		var env Envelope
		err := decoder.Decode(&env)
		if err != nil {
			if errors.Is(err, codec.ErrMalformed) {
				session.Send(errorEnvelope(err.Error()))
				continue
			}
			if !errors.Is(err, io.EOF) && !netutil.IsExpectedCloseError(err) {
				s.logger.Debug("read loop error", "client_id", session.ID, "error", err)
			}
			return
		}

		session.touch()
		if !s.dispatch(ctx, session, env) {
			return
		}
	}
}

// dispatch handles one post-registration envelope and reports whether
// the read loop should keep going. Only a re-register on an already
// registered connection returns false: spec section 7 classifies that
// as a registration error, which closes the connection, unlike every
// other malformed-envelope case here, which replies with an error
// envelope and keeps reading.
func (s *Server) dispatch(ctx context.Context, session *Session, env Envelope) bool {
	switch env.Type {
	case KindHeartbeat:
		// touch() in readLoop already recorded liveness.

	case KindRegister:
		session.Send(errorEnvelope("already registered"))
		return false

	case KindClarification:
		if session.Role != RoleProducer {
			session.Send(errorEnvelope("only producers may send clarification"))
			return true
		}
		var payload ClarificationPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			session.Send(errorEnvelope(fmt.Sprintf("invalid clarification payload: %v", err)))
			return true
		}
		req := &ClarificationRequest{
			ID:        payload.ID,
			Question:  payload.Question,
			Context:   payload.Context,
			Urgency:   payload.Urgency,
			Timestamp: payload.Timestamp,
			Status:    StatusPending,
			SourceID:  session.ID,
			Extra:     extraFields(env.Data, clarificationPayloadFields),
		}
		if err := s.Router.RouteClarification(ctx, req); err != nil {
			s.logger.Debug("clarification routing failed", "request_id", req.ID, "error", err)
		}

	case KindYap:
		if session.Role != RoleProducer {
			session.Send(errorEnvelope("only producers may send yap"))
			return true
		}
		var payload YapPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			session.Send(errorEnvelope(fmt.Sprintf("invalid yap payload: %v", err)))
			return true
		}
		yap := YapMessage{
			ID:          payload.ID,
			Message:     payload.Message,
			Mode:        payload.Mode,
			Category:    payload.Category,
			TaskContext: payload.TaskContext,
			Timestamp:   payload.Timestamp,
			SourceID:    session.ID,
			Extra:       extraFields(env.Data, yapPayloadFields),
		}
		if err := s.Router.RouteYap(ctx, yap); err != nil {
			s.logger.Debug("yap routing failed", "yap_id", yap.ID, "error", err)
		}

	case KindResponse:
		if session.Role != RoleConsumer {
			session.Send(errorEnvelope("only consumers may send response"))
			return true
		}
		var payload ResponsePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			session.Send(errorEnvelope(fmt.Sprintf("invalid response payload: %v", err)))
			return true
		}
		if payload.Response == nil {
			session.Send(errorEnvelope("response payload missing response field"))
			return true
		}
		if err := s.Router.HandleReply(ctx, session.ID, payload.RequestID, *payload.Response); err != nil {
			s.logger.Debug("handling reply failed", "request_id", payload.RequestID, "error", err)
		}

	default:
		session.Send(errorEnvelope(fmt.Sprintf("unknown envelope type %q", env.Type)))
	}

	return true
}

func errorEnvelope(reason string) Envelope {
	return Envelope{
		ID:   NewEnvelopeID(),
		Type: KindError,
		Data: mustMarshal(ErrorPayload{Error: reason}),
	}
}

// mustMarshal marshals values whose shape is fixed at compile time
// (payload structs defined in this package); a marshal failure here
// would mean a bug in one of those struct definitions, not bad input.
func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("broker: marshaling %T: %v", v, err))
	}
	return data
}
