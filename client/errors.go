// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package client

import "errors"

// ErrNotConnected is returned by Send* methods when the client has no
// live connection to the broker.
var ErrNotConnected = errors.New("client: not connected")

// ErrResponseTimeout is returned by AwaitReply when the deadline
// elapses with no matching response.
var ErrResponseTimeout = errors.New("client: response timeout")

// ErrConnectionLost is returned by every pending AwaitReply call when
// the underlying session drops before a response arrives.
var ErrConnectionLost = errors.New("client: connection lost")

// ErrMaxReconnectAttemptsReached is surfaced through
// EventHandlers.OnMaxReconnectAttemptsReached and returned by Run when
// the reconnect scheduler gives up.
var ErrMaxReconnectAttemptsReached = errors.New("client: max reconnect attempts reached")
