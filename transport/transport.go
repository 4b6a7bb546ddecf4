// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
)

// ConnHandler processes one accepted connection. It owns conn for the
// lifetime of the session — reading envelopes, writing replies, and
// closing conn when the session ends. Serve does not call ConnHandler
// again for the same connection.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Listener accepts inbound connections from producers and consumers.
// The broker creates a Listener and calls Serve with a handler that
// registers the connection as a session and drives its read loop.
type Listener interface {
	// Serve starts accepting connections and dispatches each one, in
	// its own goroutine, to handler. Blocks until ctx is cancelled or
	// Close is called. Returns nil on clean shutdown.
	Serve(ctx context.Context, handler ConnHandler) error

	// Address returns the address clients connect to, in
	// "host:port" format.
	Address() string

	// Close shuts down the listener. Subsequent calls to Serve return
	// immediately.
	Close() error
}

// Dialer opens connections to a broker. The client library uses a
// Dialer to reach a broker that may be local (same host, standalone
// mode) or, in later deployments, reachable only through some other
// transport.
type Dialer interface {
	// DialContext opens a network connection to a broker at the given
	// address. The address format matches what the broker's
	// Listener.Address() returns.
	DialContext(ctx context.Context, address string) (net.Conn, error)
}
