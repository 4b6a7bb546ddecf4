// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport provides the broker's TCP accept loop and the
// client library's dial path.
//
// [Listener] accepts inbound connections from producers and consumers
// and dispatches each to a [ConnHandler] running in its own goroutine
// (broker.Server.Serve supplies the handler that registers the
// connection as a session and drives its read loop). [Dialer]
// establishes outbound connections to a broker.
//
// [TCPListener] and [TCPDialer] are the only implementations —
// relaybroker's producers, consumers, and broker are always local or
// same-LAN processes, so there is no NAT traversal or signaling layer
// to abstract behind these interfaces. Tests construct a TCPListener
// directly from a testutil.Listener via [NewTCPListenerFrom] instead
// of parsing an address string, so parallel tests never race over a
// hardcoded port.
package transport
