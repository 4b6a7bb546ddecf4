// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to initial. Nothing moves until a
// test calls Advance; every timer, ticker, and sleep call registered
// in the meantime just parks a pending event and blocks — exactly the
// shape the heartbeat monitor's sweep ticker and the router's yap
// flush timer take in production, just driven by hand instead of by
// the wall clock.
//
// Safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	fc := &FakeClock{now: initial}
	fc.eventsChanged = sync.NewCond(&fc.mu)
	return fc
}

// FakeClock is a deterministic Clock for testing. Time only moves when
// Advance is called; timers, tickers, and sleeps block until the clock
// crosses their deadline.
//
// AfterFunc callbacks run synchronously, inside Advance, in deadline
// order. Don't call Sleep from within an AfterFunc callback on the
// same FakeClock — the callback runs on the goroutine that is
// advancing the clock, so nothing is left to wake the sleep.
type FakeClock struct {
	mu            sync.Mutex
	now           time.Time
	pending       []*pendingEvent
	eventsChanged *sync.Cond
}

// pendingEvent is a scheduled timer, ticker tick, or sleep wakeup
// waiting for the fake clock to reach its deadline.
type pendingEvent struct {
	deadline time.Time

	// notify receives the fire time for After, Sleep, and Ticker
	// events. Nil for AfterFunc events, which use callback instead.
	notify chan time.Time

	// callback runs synchronously during Advance for AfterFunc events.
	// Nil for After, Sleep, and Ticker events.
	callback func()

	// repeatEvery is non-zero for ticker events; after firing, the
	// event is rescheduled at deadline + repeatEvery instead of being
	// dropped.
	repeatEvery time.Duration

	// cancelled is set by Timer.Stop or Ticker.Stop. Cancelled events
	// are skipped on the next Advance and swept from the pending list.
	cancelled bool

	// done marks a one-shot event (After, AfterFunc) that already
	// fired, guarding against a second fire from an overlapping
	// Advance call.
	done bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives once duration d has elapsed.
// A non-positive d fires immediately without registering a pending
// event.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}

	c.pending = append(c.pending, &pendingEvent{
		deadline: c.now.Add(d),
		notify:   ch,
	})
	c.eventsChanged.Broadcast()
	return ch
}

// AfterFunc schedules f to run once duration d has elapsed. The
// returned Timer's C field is always nil. A non-positive d runs f
// synchronously before AfterFunc returns, matching After's immediate
// behavior for non-positive durations.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{
			stopFunc:  func() bool { return false },
			resetFunc: func(time.Duration) bool { return false },
		}
	}
	defer c.mu.Unlock()

	event := &pendingEvent{
		deadline: c.now.Add(d),
		callback: f,
	}
	c.pending = append(c.pending, event)
	c.eventsChanged.Broadcast()

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if event.cancelled || event.done {
				return false
			}
			event.cancelled = true
			return true
		},
		resetFunc: func(d time.Duration) bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			wasPending := !event.cancelled && !event.done
			event.cancelled = false
			event.done = false
			event.deadline = c.now.Add(d)
			if !wasPending {
				// It had already fired or been stopped and dropped
				// from the pending list; put it back.
				c.pending = append(c.pending, event)
				c.eventsChanged.Broadcast()
			}
			return wasPending
		},
	}
}

// NewTicker returns a Ticker whose C channel receives at the given
// interval, mirroring the monitor's heartbeat sweep and the client's
// heartbeat loop. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	event := &pendingEvent{
		deadline:    c.now.Add(d),
		notify:      ch,
		repeatEvery: d,
	}
	c.pending = append(c.pending, event)
	c.eventsChanged.Broadcast()

	return &Ticker{
		C: ch,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.cancelled = true
		},
		resetFunc: func(d time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.repeatEvery = d
			event.deadline = c.now.Add(d)
			event.cancelled = false
		},
	}
}

// Sleep blocks the calling goroutine until the clock advances past
// the deadline d after now. Returns immediately for a non-positive d.
func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves the clock forward by d and fires every pending event
// whose deadline now falls at or before the new time, in deadline
// order.
//
// AfterFunc callbacks run synchronously on the calling goroutine.
// Deliveries to After, Sleep, and Ticker channels are non-blocking,
// matching time.Ticker's drop-if-full behavior — a ticker whose
// consumer fell behind loses the intervening ticks, it doesn't queue
// them.
//
// A single Advance spanning several ticker intervals fires that
// ticker once per interval crossed; only the buffered slot survives,
// the rest are dropped on delivery.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}

		sort.Slice(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})

		for _, event := range due {
			switch {
			case event.callback != nil:
				event.callback()
			case event.notify != nil:
				select {
				case event.notify <- target:
				default:
				}
			}
		}
	}
}

// collectDue removes every non-cancelled event whose deadline has
// passed from the pending list, reschedules tickers for their next
// interval, and returns the events that fired. Acquires c.mu.
func (c *FakeClock) collectDue(target time.Time) []*pendingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, kept []*pendingEvent
	for _, event := range c.pending {
		if event.cancelled {
			continue
		}
		if event.deadline.After(target) {
			kept = append(kept, event)
			continue
		}
		due = append(due, event)
	}

	for _, event := range due {
		if event.repeatEvery > 0 {
			event.deadline = event.deadline.Add(event.repeatEvery)
			kept = append(kept, event)
		} else {
			event.done = true
		}
	}

	c.pending = kept
	return due
}

// WaitForTimers blocks until at least n timers, tickers, or sleeps are
// pending. Without this, a goroutine registering a timer and a test
// calling Advance race: the test might advance the clock before the
// timer under test has even been created. Blocking on the pending
// count instead of sleeping removes that race entirely.
//
// Example:
//
//	go func() { fc.Sleep(5 * time.Second) }()
//	fc.WaitForTimers(1)         // blocks until Sleep registers
//	fc.Advance(5 * time.Second) // fires it deterministically
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingCountLocked() < n {
		c.eventsChanged.Wait()
	}
}

// PendingCount reports how many timers, tickers, or sleeps are
// currently registered and not yet cancelled or fired.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingCountLocked()
}

func (c *FakeClock) pendingCountLocked() int {
	count := 0
	for _, event := range c.pending {
		if !event.cancelled {
			count++
		}
	}
	return count
}
