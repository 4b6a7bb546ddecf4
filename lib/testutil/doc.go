// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for relaybroker's
// packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout idiom so individual tests don't hand-roll
// time.After fallbacks around channel operations. Their timeouts are
// real wall-clock timeouts that only guard against a hung test.
//
// [UniqueID] hands out monotonically increasing identifiers for test
// disambiguation — use it instead of time.Now() when a test needs
// distinguishable client IDs or request IDs.
//
// [Listener] opens a TCP listener on loopback with an OS-assigned
// port, for tests that need a real accept loop without racing to pick
// a free port.
//
// This package has no dependency on the broker, client, or supervisor
// packages, so it can be imported from any of their test files without
// import cycles.
package testutil
