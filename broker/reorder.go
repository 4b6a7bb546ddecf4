// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sort"
	"time"

	"github.com/relaybroker/relaybroker/lib/clock"
)

// defaultYapReorderBufferCap is used by tests and callers that
// construct a buffer without an explicit capacity. Production callers
// go through Router, which threads config.YapBufferCapacity in.
const defaultYapReorderBufferCap = 50

// yapReorderBuffer holds one consumer's yaps awaiting a timestamp-
// sorted batch flush. Like clarificationQueue, it is only ever
// touched from the router's goroutine.
type yapReorderBuffer struct {
	items []YapMessage
	cap   int
	timer *clock.Timer
}

func newYapReorderBuffer(capacity int) *yapReorderBuffer {
	if capacity <= 0 {
		capacity = defaultYapReorderBufferCap
	}
	return &yapReorderBuffer{cap: capacity}
}

// Append adds yap to the buffer, sorts by ascending producer
// timestamp (stable, so same-timestamp yaps keep arrival order), and
// caps the buffer at its configured capacity by dropping the oldest
// excess entries (spec section 3).
func (b *yapReorderBuffer) Append(yap YapMessage) {
	b.items = append(b.items, yap)
	sort.SliceStable(b.items, func(i, j int) bool {
		return b.items[i].Timestamp < b.items[j].Timestamp
	})
	if len(b.items) > b.cap {
		excess := len(b.items) - b.cap
		b.items = b.items[excess:]
	}
}

// Flush empties the buffer and returns its contents in sorted order.
func (b *yapReorderBuffer) Flush() []YapMessage {
	flushed := b.items
	b.items = nil
	return flushed
}

// Arm (re)schedules the buffer's flush timer to fire onFire after
// delay, cancelling any timer already pending. clk lets tests control
// the delay deterministically.
func (b *yapReorderBuffer) Arm(clk clock.Clock, delay time.Duration, onFire func()) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = clk.AfterFunc(delay, onFire)
}

// Cancel stops any pending flush timer, used when the buffer's
// consumer disconnects.
func (b *yapReorderBuffer) Cancel() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
