// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor implements the producer-side "acquire or spawn"
// dance described in spec section 4.4: a producer starting up needs
// exactly one broker listening on the well-known port, whether that
// broker was started by this process or an earlier one.
//
// AcquireOrSpawn probes the port; if nothing answers, it starts an
// in-process broker and returns a Handle whose Shutdown stops it. If
// another process already owns the port, or another goroutine in this
// process is mid-spawn, AcquireOrSpawn returns an "attached" Handle
// whose Shutdown is a no-op — only the owner may stop the broker.
package supervisor
