// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock injects time so the router's yap-flush timer, the
// heartbeat monitor's sweep ticker, and the client's reconnect backoff
// and reply-timeout deadlines can be driven deterministically in
// tests instead of waiting on the wall clock.
//
// Production code takes a Clock parameter (or holds one on a struct)
// instead of calling time.Now, time.After, time.NewTicker,
// time.AfterFunc, or time.Sleep directly:
//
//	type Router struct {
//	    clock clock.Clock
//	}
//
//	r := &Router{clock: clock.Real()}
//
// Tests substitute a Fake and step it explicitly:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	r := &Router{clock: c}
//	// start the goroutine under test
//	c.WaitForTimers(1)         // block until it registers the flush timer
//	c.Advance(200 * time.Millisecond) // fire it deterministically
//
// WaitForTimers exists because a goroutine registering a timer and a
// test calling Advance race under time.Sleep-based synchronization;
// blocking on the pending-timer count removes that race.
package clock

import "time"

// Clock is the seam between production timing and test timing.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After mirrors time.After: a channel that fires once, d after
	// the call. d <= 0 fires immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc mirrors time.AfterFunc. The returned Timer's C is
	// always nil, matching the standard library's own AfterFunc.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker mirrors time.NewTicker. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep mirrors time.Sleep.
	Sleep(d time.Duration)
}

// Ticker is a periodic timer. Read ticks from C; call Stop to release
// it. C has capacity 1 — a slow reader drops ticks rather than queuing
// them, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stopFunc  func()
	resetFunc func(time.Duration)
}

func (t *Ticker) Stop()                     { t.stopFunc() }
func (t *Ticker) Reset(d time.Duration)     { t.resetFunc(d) }

// Timer is a scheduled one-shot event. C is nil for timers created via
// AfterFunc since the callback already carries the notification.
type Timer struct {
	C <-chan time.Time

	stopFunc  func() bool
	resetFunc func(time.Duration) bool
}

// Stop cancels the timer. Reports whether the cancellation actually
// prevented a firing.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Reset reschedules the timer to fire after d, cancelling any pending
// firing. Reports whether the timer was still pending before the
// reset.
func (t *Timer) Reset(d time.Duration) bool { return t.resetFunc(d) }
