// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package broker implements the message-routing fabric that connects
// AI-agent producers to human-operated consumer terminals: the wire
// envelope schema, per-connection sessions, the client registry, the
// router that decides which consumer receives which request, the yap
// reorder buffer, the heartbeat/timeout monitor, and the TCP server
// that wires all of the above together.
//
// [Router] is the only place routing state (per-consumer queues,
// reorder buffers) is mutated; the [Registry] has its own lock and is
// updated by the server on registration and teardown. The router runs
// as a single goroutine
// reading commands off a channel, so callers never take a lock — they
// send a command and, where a reply is expected, wait on a channel
// embedded in that command. [Server] owns one [Router], one
// [Registry], and one accept loop; each accepted connection becomes a
// [Session] with its own read goroutine and write goroutine.
package broker
