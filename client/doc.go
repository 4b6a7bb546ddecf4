// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the relaybroker wire protocol from the
// producer or consumer side: connect, register, exchange typed
// envelopes, and reconnect with backoff when the broker connection
// drops.
//
// A [Client] is constructed with a [Config] naming its role and
// identity, then driven by calling [Client.Run] in its own goroutine.
// Run owns the connect/reconnect state machine described in spec
// section 4.5; callers interact with a live connection through
// [Client.SendClarification], [Client.SendYap], [Client.SendResponse],
// and [Client.AwaitReply], and observe broker-originated events
// through the [EventHandlers] supplied at construction.
package client
