// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/relaybroker/relaybroker/lib/clock"
	"github.com/relaybroker/relaybroker/lib/config"
	"github.com/relaybroker/relaybroker/lib/testutil"
	"github.com/relaybroker/relaybroker/transport"
)

// testConn is one connected client's view of the server: an encoder
// and decoder over a real TCP socket.
type testConn struct {
	t    *testing.T
	conn net.Conn
	dec  *bufio.Reader
}

func dial(t *testing.T, address string) *testConn {
	t.Helper()
	conn, err := net.Dial("tcp", address)
	if err != nil {
		t.Fatalf("dialing broker: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn, dec: bufio.NewReader(conn)}
}

func (c *testConn) send(env Envelope) {
	c.t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		c.t.Fatalf("marshaling envelope: %v", err)
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		c.t.Fatalf("writing envelope: %v", err)
	}
}

func (c *testConn) recv() Envelope {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.dec.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading envelope: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		c.t.Fatalf("unmarshaling envelope: %v", err)
	}
	return env
}

func startTestServer(t *testing.T) (address string, clk *clock.FakeClock) {
	t.Helper()
	cfg := config.Default()
	clk = clock.Fake(time.Unix(0, 0))
	server := NewServer(cfg, clk, testLogger())

	listener := transport.NewTCPListenerFrom(testutil.Listener(t))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go server.Serve(ctx, listener)
	return listener.Address(), clk
}

func TestServer_RegistrationReceivesSync(t *testing.T) {
	address, _ := startTestServer(t)
	conn := dial(t, address)

	conn.send(Envelope{ID: "reg1", Type: KindRegister, ClientID: "p1", ClientType: RoleProducer})

	env := conn.recv()
	if env.Type != KindSync {
		t.Fatalf("expected sync envelope, got %s", env.Type)
	}
}

func TestServer_DuplicateClientIDRejected(t *testing.T) {
	address, _ := startTestServer(t)
	first := dial(t, address)
	first.send(Envelope{ID: "reg1", Type: KindRegister, ClientID: "dup", ClientType: RoleProducer})
	first.recv() // sync

	second := dial(t, address)
	second.send(Envelope{ID: "reg2", Type: KindRegister, ClientID: "dup", ClientType: RoleProducer})

	env := second.recv()
	if env.Type != KindError {
		t.Fatalf("expected error envelope for duplicate id, got %s", env.Type)
	}
}

func TestServer_EndToEndClarificationRoundTrip(t *testing.T) {
	address, _ := startTestServer(t)

	producer := dial(t, address)
	producer.send(Envelope{ID: "reg-p", Type: KindRegister, ClientID: "p1", ClientType: RoleProducer})
	producer.recv() // sync

	consumer := dial(t, address)
	consumer.send(Envelope{ID: "reg-c", Type: KindRegister, ClientID: "c1", ClientType: RoleConsumer})
	consumer.recv() // sync

	clarification, _ := json.Marshal(ClarificationPayload{
		ID:       "q1",
		Question: "which environment?",
		Urgency:  UrgencyHigh,
	})
	producer.send(Envelope{
		ID:         "env-q1",
		Type:       KindClarification,
		ClientID:   "p1",
		ClientType: RoleProducer,
		Data:       clarification,
	})

	delivered := consumer.recv()
	if delivered.Type != KindClarification {
		t.Fatalf("expected consumer to receive clarification, got %s", delivered.Type)
	}
	payload := decodePayload[ClarificationPayload](t, delivered)
	if payload.ID != "q1" {
		t.Fatalf("unexpected clarification id: %s", payload.ID)
	}

	answer := "use staging"
	response, _ := json.Marshal(ResponsePayload{RequestID: "q1", Response: &answer})
	consumer.send(Envelope{
		ID:         "env-r1",
		Type:       KindResponse,
		ClientID:   "c1",
		ClientType: RoleConsumer,
		Data:       response,
	})

	reply := producer.recv()
	if reply.Type != KindResponse {
		t.Fatalf("expected producer to receive response, got %s", reply.Type)
	}
	replyPayload := decodePayload[ResponsePayload](t, reply)
	if replyPayload.Response == nil || *replyPayload.Response != answer {
		t.Fatalf("unexpected reply payload: %+v", replyPayload)
	}
}

func TestServer_MalformedLineKeepsConnectionOpen(t *testing.T) {
	address, _ := startTestServer(t)
	conn := dial(t, address)
	conn.send(Envelope{ID: "reg1", Type: KindRegister, ClientID: "p1", ClientType: RoleProducer})
	conn.recv() // sync

	if _, err := conn.conn.Write([]byte("{not valid json\n")); err != nil {
		t.Fatalf("writing malformed line: %v", err)
	}

	env := conn.recv()
	if env.Type != KindError {
		t.Fatalf("expected an error envelope for malformed input, got %s", env.Type)
	}

	// The connection should still be usable afterward.
	conn.send(Envelope{ID: "hb1", Type: KindHeartbeat, ClientID: "p1", ClientType: RoleProducer})
	// No response is expected for a heartbeat; confirm the connection is
	// still open by sending a clarification and observing the failure
	// response synthesized for lack of a consumer, proving the read
	// loop kept running past the malformed line.
	clarification, _ := json.Marshal(ClarificationPayload{ID: "q1", Question: "still alive?"})
	conn.send(Envelope{ID: "env-q1", Type: KindClarification, ClientID: "p1", ClientType: RoleProducer, Data: clarification})

	env = conn.recv()
	if env.Type != KindResponse {
		t.Fatalf("expected a synthesized failure response, got %s", env.Type)
	}
}

func TestServer_MalformedFirstLineReceivesErrorEnvelope(t *testing.T) {
	address, _ := startTestServer(t)
	conn := dial(t, address)

	if _, err := conn.conn.Write([]byte("{not valid json\n")); err != nil {
		t.Fatalf("writing malformed line: %v", err)
	}

	env := conn.recv()
	if env.Type != KindError {
		t.Fatalf("expected an error envelope for malformed input before registration, got %s", env.Type)
	}
}

func TestServer_ReRegisterOnSameConnectionCloses(t *testing.T) {
	address, _ := startTestServer(t)
	conn := dial(t, address)
	conn.send(Envelope{ID: "reg1", Type: KindRegister, ClientID: "p1", ClientType: RoleProducer})
	conn.recv() // sync

	conn.send(Envelope{ID: "reg2", Type: KindRegister, ClientID: "p1", ClientType: RoleProducer})

	env := conn.recv()
	if env.Type != KindError {
		t.Fatalf("expected an error envelope for re-register, got %s", env.Type)
	}

	conn.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed after re-register, but it stayed open")
	}
}

func TestServer_WrongRoleSendingClarificationRejected(t *testing.T) {
	address, _ := startTestServer(t)
	consumer := dial(t, address)
	consumer.send(Envelope{ID: "reg-c", Type: KindRegister, ClientID: "c1", ClientType: RoleConsumer})
	consumer.recv() // sync

	clarification, _ := json.Marshal(ClarificationPayload{ID: "q1", Question: "not allowed"})
	consumer.send(Envelope{ID: "env-q1", Type: KindClarification, ClientID: "c1", ClientType: RoleConsumer, Data: clarification})

	env := consumer.recv()
	if env.Type != KindError {
		t.Fatalf("expected error for consumer sending clarification, got %s", env.Type)
	}
}
