// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "fmt"

// ProtocolError is a wire-level failure: malformed JSON, a missing
// mandatory field, or a registration problem. The broker reports it to
// the peer as an error envelope; Fatal controls whether the connection
// is then closed (true only for registration failures, per spec
// section 7).
type ProtocolError struct {
	Reason string
	Fatal  bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// RoutingError is a routing-level failure returned to the calling
// producer as a response envelope rather than an error envelope, per
// spec section 7's "No route" and "Queue saturation" taxonomy entries.
type RoutingError struct {
	Reason string
}

func (e *RoutingError) Error() string {
	return e.Reason
}

// ErrNoConsumerAvailable is returned by the router when a
// clarification arrives but no consumer session exists.
var ErrNoConsumerAvailable = &RoutingError{Reason: "No CLI clients available"}

// ErrQueueFull is returned by the router when the chosen consumer's
// clarification queue is already at capacity.
var ErrQueueFull = &RoutingError{Reason: "queue full"}
