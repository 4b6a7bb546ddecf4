// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/codec"
	"github.com/relaybroker/relaybroker/transport"
)

// ConnState is a client's position in the state machine from spec
// section 4.5: idle, connecting, connected, disconnected (awaiting
// the next backoff-scheduled connect attempt).
type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Config configures a Client. Zero-value duration and count fields are
// replaced by their documented default at New.
type Config struct {
	// Address is the broker's host:port, e.g. "127.0.0.1:8765".
	Address string

	// ClientID is this client's self-chosen identifier. Must be unique
	// among the broker's live sessions.
	ClientID broker.ClientID

	// Role is fixed for the client's lifetime: producer or consumer.
	Role broker.Role

	// Dialer opens the TCP connection. Defaults to &transport.TCPDialer{}.
	Dialer transport.Dialer

	// Clock drives the heartbeat ticker, reconnect backoff, and
	// AwaitReply timeouts. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives connection lifecycle and protocol warnings.
	// Defaults to slog.Default().
	Logger *slog.Logger

	// HeartbeatInterval is how often heartbeat envelopes are sent
	// while connected. Default 5s.
	HeartbeatInterval time.Duration

	// ConnectTimeout bounds a single dial-and-handshake attempt.
	// Default 5s.
	ConnectTimeout time.Duration

	// ReconnectDelay is the base of the exponential backoff:
	// reconnectDelay * 2^attempt. Default 1s.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds how many times Run retries after a
	// disconnect before giving up. Default 10.
	MaxReconnectAttempts int
}

func (c Config) withDefaults() Config {
	if c.Dialer == nil {
		c.Dialer = &transport.TCPDialer{}
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	return c
}

// EventHandlers are the caller's hooks into broker-originated events
// (spec section 4.5). Any handler may be left nil.
type EventHandlers struct {
	OnClarification               func(broker.ClarificationPayload)
	OnYap                         func(broker.YapPayload)
	OnSync                        func()
	OnDisconnected                func()
	OnMaxReconnectAttemptsReached func()
}

// Client is one producer's or consumer's session with the broker. It
// owns exactly one connection at a time; Run drives the
// connect/reconnect state machine and must be called in its own
// goroutine before Send* or AwaitReply are used.
type Client struct {
	cfg      Config
	handlers EventHandlers
	pending  *pendingTable

	mu      sync.Mutex
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
	state   ConnState
}

// New constructs a Client. Call Run to start connecting.
func New(cfg Config, handlers EventHandlers) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		handlers: handlers,
		pending:  newPendingTable(),
	}
}

// State returns the client's current position in the connection state
// machine.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the connect/reconnect state machine until ctx is
// cancelled or the reconnect budget is exhausted. Returns
// ErrMaxReconnectAttemptsReached in the latter case, ctx.Err() in the
// former.
func (c *Client) Run(ctx context.Context) error {
	attempt := 0
	for {
		c.setState(StateConnecting)
		if err := c.connectOnce(ctx); err != nil {
			c.cfg.Logger.Warn("connect attempt failed", "address", c.cfg.Address, "attempt", attempt, "error", err)
		} else {
			attempt = 0
			c.setState(StateConnected)
			runErr := c.runConnection(ctx)
			c.closeConn()
			c.setState(StateDisconnected)
			c.pending.rejectAll(ErrConnectionLost)
			if c.handlers.OnDisconnected != nil {
				c.handlers.OnDisconnected()
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.cfg.Logger.Debug("connection lost, will reconnect", "error", runErr)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt >= c.cfg.MaxReconnectAttempts {
			if c.handlers.OnMaxReconnectAttemptsReached != nil {
				c.handlers.OnMaxReconnectAttemptsReached()
			}
			return ErrMaxReconnectAttemptsReached
		}

		backoff := c.cfg.ReconnectDelay * (1 << attempt)
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.cfg.Clock.After(backoff):
		}
	}
}

// connectOnce dials, performs the register/sync handshake, and stores
// the live connection on success.
func (c *Client) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dialer.DialContext(dialCtx, c.cfg.Address)
	if err != nil {
		return fmt.Errorf("connecting to broker at %s (start one with `relaybroker broker --listen %s`): %w",
			c.cfg.Address, c.cfg.Address, err)
	}

	encoder := codec.NewEncoder(conn)
	decoder := codec.NewDecoder(conn)

	register := broker.Envelope{
		ID:         broker.NewEnvelopeID(),
		Type:       broker.KindRegister,
		ClientID:   c.cfg.ClientID,
		ClientType: c.cfg.Role,
		Timestamp:  c.cfg.Clock.Now().UnixMilli(),
	}
	if err := encoder.Encode(register); err != nil {
		conn.Close()
		return fmt.Errorf("sending register: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))
	var reply broker.Envelope
	if err := decoder.Decode(&reply); err != nil {
		conn.Close()
		return fmt.Errorf("awaiting sync from broker: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Type {
	case broker.KindSync:
		// success
	case broker.KindError:
		conn.Close()
		var payload broker.ErrorPayload
		json.Unmarshal(reply.Data, &payload)
		return fmt.Errorf("registration rejected: %s", payload.Error)
	default:
		conn.Close()
		return fmt.Errorf("expected sync, got %s", reply.Type)
	}

	c.mu.Lock()
	c.conn = conn
	c.encoder = encoder
	c.decoder = decoder
	c.mu.Unlock()

	if c.handlers.OnSync != nil {
		c.handlers.OnSync()
	}
	return nil
}

// runConnection runs the heartbeat loop and read loop concurrently
// until the connection drops or ctx is cancelled, returning the read
// loop's error (nil on clean shutdown).
func (c *Client) runConnection(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeatLoop(connCtx)

	errCh := make(chan error, 1)
	go func() { errCh <- c.readLoop(connCtx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		c.closeConn()
		<-errCh
		return ctx.Err()
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := c.cfg.Clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.sendEnvelope(broker.KindHeartbeat, nil); err != nil {
				// Not itself reported; the read loop observes the same
				// broken connection through its own error path.
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		var env broker.Envelope
		decoder := c.currentDecoder()
		if decoder == nil {
			return ErrNotConnected
		}
		err := decoder.Decode(&env)
		if err != nil {
			if errors.Is(err, codec.ErrMalformed) {
				c.cfg.Logger.Warn("malformed envelope from broker", "error", err)
				continue
			}
			return err
		}
		c.dispatch(env)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Client) dispatch(env broker.Envelope) {
	switch env.Type {
	case broker.KindClarification:
		var payload broker.ClarificationPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.cfg.Logger.Warn("invalid clarification payload", "error", err)
			return
		}
		if c.handlers.OnClarification != nil {
			c.handlers.OnClarification(payload)
		}

	case broker.KindYap:
		var payload broker.YapPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.cfg.Logger.Warn("invalid yap payload", "error", err)
			return
		}
		if c.handlers.OnYap != nil {
			c.handlers.OnYap(payload)
		}

	case broker.KindResponse:
		var payload broker.ResponsePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.cfg.Logger.Warn("invalid response payload", "error", err)
			return
		}
		if payload.Response != nil {
			c.pending.resolve(payload.RequestID, *payload.Response)
		} else {
			reason := payload.Error
			if reason == "" {
				reason = "request failed with no response body"
			}
			c.pending.rejectOne(payload.RequestID, errors.New(reason))
		}

	case broker.KindSync:
		if c.handlers.OnSync != nil {
			c.handlers.OnSync()
		}

	case broker.KindError:
		var payload broker.ErrorPayload
		json.Unmarshal(env.Data, &payload)
		c.cfg.Logger.Warn("broker reported an error", "reason", payload.Error)

	default:
		c.cfg.Logger.Warn("unrecognized envelope type from broker", "type", env.Type)
	}
}

func (c *Client) currentDecoder() *codec.Decoder {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decoder
}

func (c *Client) closeConn() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.encoder = nil
	c.decoder = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Close tears down any live connection. Run treats this like any
// other disconnect: it rejects pending replies, calls OnDisconnected,
// and schedules a reconnect. Close does not stop Run; Run returns only
// when its context is cancelled or the reconnect budget is exhausted.
func (c *Client) Close() error {
	c.closeConn()
	return nil
}

func (c *Client) sendEnvelope(kind broker.EnvelopeKind, payload any) error {
	c.mu.Lock()
	encoder := c.encoder
	c.mu.Unlock()
	if encoder == nil {
		return ErrNotConnected
	}

	env := broker.Envelope{
		ID:         broker.NewEnvelopeID(),
		Type:       kind,
		ClientID:   c.cfg.ClientID,
		ClientType: c.cfg.Role,
		Timestamp:  c.cfg.Clock.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling %s payload: %w", kind, err)
		}
		env.Data = data
	}

	if err := encoder.Encode(env); err != nil {
		return fmt.Errorf("sending %s envelope: %w", kind, err)
	}
	return nil
}

// SendClarification sends a clarification request, assigning payload.ID
// via a fresh UUID if the caller left it empty. Returns the ID that
// was actually sent — pass it to AwaitReply to collect the answer —
// and ErrNotConnected if the socket is currently down.
func (c *Client) SendClarification(payload broker.ClarificationPayload) (string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	return payload.ID, c.sendEnvelope(broker.KindClarification, payload)
}

// SendYap sends a fire-and-forget status update, assigning payload.ID
// via a fresh UUID if the caller left it empty.
func (c *Client) SendYap(payload broker.YapPayload) (string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	return payload.ID, c.sendEnvelope(broker.KindYap, payload)
}

// SendResponse answers a clarification request as a consumer.
func (c *Client) SendResponse(payload broker.ResponsePayload) error {
	return c.sendEnvelope(broker.KindResponse, payload)
}

// AwaitReply blocks until a response envelope for requestID arrives,
// the connection is lost, the timeout elapses, or ctx is cancelled.
// A response carrying only an error field, and a lost connection
// (ErrConnectionLost), are returned as errors. Exactly one of these
// outcomes resolves the call; the registered slot is always removed
// before returning.
func (c *Client) AwaitReply(ctx context.Context, requestID string, timeout time.Duration) (string, error) {
	ch := c.pending.register(requestID)
	select {
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		return res.response, nil
	case <-c.cfg.Clock.After(timeout):
		c.pending.cancel(requestID)
		return "", ErrResponseTimeout
	case <-ctx.Done():
		c.pending.cancel(requestID)
		return "", ctx.Err()
	}
}
