// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaybroker/relaybroker/broker"
	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/codec"
	"github.com/relaybroker/relaybroker/lib/testutil"
	"github.com/relaybroker/relaybroker/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeDialer hands out net.Pipe connections instead of dialing a real
// socket, delivering the server-side end on serverConns for the test
// to drive by hand.
type pipeDialer struct {
	serverConns chan net.Conn
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{serverConns: make(chan net.Conn, 8)}
}

func (d *pipeDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	clientEnd, serverEnd := net.Pipe()
	d.serverConns <- serverEnd
	return clientEnd, nil
}

// fakeServer drives one connection's worth of handshake and further
// traffic from the "broker" side.
type fakeServer struct {
	t       *testing.T
	conn    net.Conn
	encoder *codec.Encoder
	decoder *codec.Decoder
}

func acceptHandshake(t *testing.T, conn net.Conn) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, conn: conn, encoder: codec.NewEncoder(conn), decoder: codec.NewDecoder(conn)}
	var register broker.Envelope
	if err := fs.decoder.Decode(&register); err != nil {
		t.Fatalf("server: decoding register: %v", err)
	}
	if register.Type != broker.KindRegister {
		t.Fatalf("expected register envelope, got %s", register.Type)
	}
	if err := fs.encoder.Encode(broker.Envelope{
		ID:         broker.NewEnvelopeID(),
		Type:       broker.KindSync,
		ClientID:   register.ClientID,
		ClientType: register.ClientType,
	}); err != nil {
		t.Fatalf("server: encoding sync: %v", err)
	}
	return fs
}

func (fs *fakeServer) sendClarification(payload broker.ClarificationPayload) {
	fs.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		fs.t.Fatalf("server: marshaling clarification: %v", err)
	}
	if err := fs.encoder.Encode(broker.Envelope{ID: broker.NewEnvelopeID(), Type: broker.KindClarification, Data: data}); err != nil {
		fs.t.Fatalf("server: sending clarification: %v", err)
	}
}

func (fs *fakeServer) sendYap(payload broker.YapPayload) {
	fs.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		fs.t.Fatalf("server: marshaling yap: %v", err)
	}
	if err := fs.encoder.Encode(broker.Envelope{ID: broker.NewEnvelopeID(), Type: broker.KindYap, Data: data}); err != nil {
		fs.t.Fatalf("server: sending yap: %v", err)
	}
}

func (fs *fakeServer) sendResponse(payload broker.ResponsePayload) {
	fs.t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		fs.t.Fatalf("server: marshaling response: %v", err)
	}
	if err := fs.encoder.Encode(broker.Envelope{ID: broker.NewEnvelopeID(), Type: broker.KindResponse, Data: data}); err != nil {
		fs.t.Fatalf("server: sending response: %v", err)
	}
}

func (fs *fakeServer) readEnvelope() (broker.Envelope, error) {
	var env broker.Envelope
	err := fs.decoder.Decode(&env)
	return env, err
}

// waitForPending blocks until AwaitReply has registered a slot for
// requestID, so the test only triggers the resolving event once the
// caller is actually listening for it.
func waitForPending(t *testing.T, c *Client, requestID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		c.pending.mu.Lock()
		_, ok := c.pending.entries[requestID]
		c.pending.mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("AwaitReply never registered %q", requestID)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestClient(dialer transport.Dialer, clk clock.Clock, handlers EventHandlers) *Client {
	return New(Config{
		Address:              "test-broker:8765",
		ClientID:             "producer-1",
		Role:                 broker.RoleProducer,
		Dialer:               dialer,
		Clock:                clk,
		Logger:               testLogger(),
		HeartbeatInterval:    time.Second,
		ConnectTimeout:       time.Second,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, handlers)
}

func TestClient_ConnectResolvesOnSync(t *testing.T) {
	dialer := newPipeDialer()
	synced := make(chan struct{}, 1)
	c := newTestClient(dialer, clock.Real(), EventHandlers{OnSync: func() { synced <- struct{}{} }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	acceptHandshake(t, serverConn)

	testutil.RequireReceive(t, synced, time.Second, "waiting for OnSync")
	if got := c.State(); got != StateConnected {
		t.Fatalf("expected StateConnected, got %s", got)
	}
}

func TestClient_ConnectionRefusedNamesAddress(t *testing.T) {
	listener := testutil.Listener(t)
	address := listener.Addr().String()
	listener.Close()

	c := New(Config{
		Address:        address,
		ClientID:       "producer-1",
		Role:           broker.RoleProducer,
		Logger:         testLogger(),
		ConnectTimeout: time.Second,
	}, EventHandlers{})

	err := c.connectOnce(context.Background())
	if err == nil {
		t.Fatalf("expected connect error, got nil")
	}
	if !strings.Contains(err.Error(), address) {
		t.Fatalf("expected error to name address %q, got %v", address, err)
	}
}

func TestClient_SendFailsWhenNotConnected(t *testing.T) {
	c := New(Config{Address: "unused:0", ClientID: "producer-1", Role: broker.RoleProducer, Logger: testLogger()}, EventHandlers{})

	_, err := c.SendClarification(broker.ClarificationPayload{ID: "q1", Question: "well?"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DispatchInvokesClarificationAndYapHandlers(t *testing.T) {
	dialer := newPipeDialer()
	gotClarification := make(chan broker.ClarificationPayload, 1)
	gotYap := make(chan broker.YapPayload, 1)
	c := newTestClient(dialer, clock.Real(), EventHandlers{
		OnClarification: func(p broker.ClarificationPayload) { gotClarification <- p },
		OnYap:           func(p broker.YapPayload) { gotYap <- p },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	fs := acceptHandshake(t, serverConn)

	fs.sendClarification(broker.ClarificationPayload{ID: "q1", Question: "which env?"})
	p := testutil.RequireReceive(t, gotClarification, time.Second, "waiting for clarification dispatch")
	if p.ID != "q1" {
		t.Fatalf("unexpected clarification payload: %+v", p)
	}

	fs.sendYap(broker.YapPayload{ID: "y1", Message: "still working"})
	y := testutil.RequireReceive(t, gotYap, time.Second, "waiting for yap dispatch")
	if y.ID != "y1" {
		t.Fatalf("unexpected yap payload: %+v", y)
	}
}

func TestClient_AwaitReplyResolvesOnMatchingResponse(t *testing.T) {
	dialer := newPipeDialer()
	c := newTestClient(dialer, clock.Real(), EventHandlers{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	fs := acceptHandshake(t, serverConn)

	replyCh := make(chan struct {
		resp string
		err  error
	}, 1)
	go func() {
		resp, err := c.AwaitReply(context.Background(), "req-1", time.Second)
		replyCh <- struct {
			resp string
			err  error
		}{resp, err}
	}()

	waitForPending(t, c, "req-1")
	answer := "use staging"
	fs.sendResponse(broker.ResponsePayload{RequestID: "req-1", Response: &answer})

	result := testutil.RequireReceive(t, replyCh, time.Second, "waiting for AwaitReply")
	if result.err != nil {
		t.Fatalf("unexpected error: %v", result.err)
	}
	if result.resp != answer {
		t.Fatalf("expected %q, got %q", answer, result.resp)
	}
}

func TestClient_AwaitReplyRejectedOnApplicationFailure(t *testing.T) {
	dialer := newPipeDialer()
	c := newTestClient(dialer, clock.Real(), EventHandlers{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	fs := acceptHandshake(t, serverConn)

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.AwaitReply(context.Background(), "req-1", time.Second)
		resultCh <- err
	}()

	waitForPending(t, c, "req-1")
	fs.sendResponse(broker.ResponsePayload{RequestID: "req-1", Response: nil, Error: "no consumers available"})

	err := testutil.RequireReceive(t, resultCh, time.Second, "waiting for rejection")
	if err == nil || !strings.Contains(err.Error(), "no consumers available") {
		t.Fatalf("expected error mentioning the failure reason, got %v", err)
	}
}

func TestClient_AwaitReplyTimesOut(t *testing.T) {
	dialer := newPipeDialer()
	clk := clock.Fake(time.Unix(0, 0))
	c := newTestClient(dialer, clk, EventHandlers{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	acceptHandshake(t, serverConn)

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.AwaitReply(context.Background(), "req-1", 200*time.Millisecond)
		resultCh <- err
	}()

	// The heartbeat ticker is already pending; wait for AwaitReply's
	// timeout to join it before advancing.
	clk.WaitForTimers(2)
	clk.Advance(200 * time.Millisecond)

	err := testutil.RequireReceive(t, resultCh, time.Second, "waiting for timeout")
	if !errors.Is(err, ErrResponseTimeout) {
		t.Fatalf("expected ErrResponseTimeout, got %v", err)
	}
}

func TestClient_AwaitReplyRejectedOnConnectionLost(t *testing.T) {
	dialer := newPipeDialer()
	disconnected := make(chan struct{}, 1)
	c := newTestClient(dialer, clock.Real(), EventHandlers{OnDisconnected: func() { disconnected <- struct{}{} }})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	acceptHandshake(t, serverConn)

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.AwaitReply(context.Background(), "req-1", 5*time.Second)
		resultCh <- err
	}()

	waitForPending(t, c, "req-1")
	serverConn.Close()

	testutil.RequireReceive(t, disconnected, time.Second, "waiting for OnDisconnected")
	err := testutil.RequireReceive(t, resultCh, time.Second, "waiting for rejection")
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected ErrConnectionLost, got %v", err)
	}
}

func TestClient_HeartbeatSentPeriodically(t *testing.T) {
	dialer := newPipeDialer()
	clk := clock.Fake(time.Unix(0, 0))
	c := newTestClient(dialer, clk, EventHandlers{})
	c.cfg.HeartbeatInterval = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	serverConn := testutil.RequireReceive(t, dialer.serverConns, time.Second, "waiting for dial")
	fs := acceptHandshake(t, serverConn)

	clk.WaitForTimers(1)
	clk.Advance(500 * time.Millisecond)

	envCh := make(chan broker.Envelope, 1)
	go func() {
		env, err := fs.readEnvelope()
		if err == nil {
			envCh <- env
		}
	}()

	env := testutil.RequireReceive(t, envCh, time.Second, "waiting for heartbeat")
	if env.Type != broker.KindHeartbeat {
		t.Fatalf("expected heartbeat envelope, got %s", env.Type)
	}
}

func TestClient_MaxReconnectAttemptsReached(t *testing.T) {
	failAlways := &alwaysFailDialer{err: errors.New("connection refused")}
	clk := clock.Fake(time.Unix(0, 0))
	maxReached := make(chan struct{}, 1)
	c := newTestClient(failAlways, clk, EventHandlers{OnMaxReconnectAttemptsReached: func() { maxReached <- struct{}{} }})
	c.cfg.MaxReconnectAttempts = 2

	resultCh := make(chan error, 1)
	go func() { resultCh <- c.Run(context.Background()) }()

	// attempt 0 fails immediately, then two backoff-scheduled retries.
	clk.WaitForTimers(1)
	clk.Advance(c.cfg.ReconnectDelay)
	clk.WaitForTimers(1)
	clk.Advance(c.cfg.ReconnectDelay * 2)

	testutil.RequireReceive(t, maxReached, time.Second, "waiting for OnMaxReconnectAttemptsReached")
	err := testutil.RequireReceive(t, resultCh, time.Second, "waiting for Run to return")
	if !errors.Is(err, ErrMaxReconnectAttemptsReached) {
		t.Fatalf("expected ErrMaxReconnectAttemptsReached, got %v", err)
	}
	if failAlways.attempts.Load() != 3 {
		t.Fatalf("expected 3 dial attempts (1 initial + 2 retries), got %d", failAlways.attempts.Load())
	}
}

type alwaysFailDialer struct {
	err      error
	attempts atomic.Int32
}

func (d *alwaysFailDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	d.attempts.Add(1)
	return nil, d.err
}
