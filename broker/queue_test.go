// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "testing"

func TestClarificationQueue_FIFOOrder(t *testing.T) {
	q := newClarificationQueue(10)
	a := &ClarificationRequest{ID: "a"}
	b := &ClarificationRequest{ID: "b"}
	c := &ClarificationRequest{ID: "c"}
	q.Push(a)
	q.Push(b)
	q.Push(c)

	if q.Head().ID != "a" {
		t.Fatalf("expected head a, got %s", q.Head().ID)
	}
	if got := q.PopHead(); got.ID != "a" {
		t.Fatalf("expected pop a, got %s", got.ID)
	}
	if q.Head().ID != "b" {
		t.Fatalf("expected head b after pop, got %s", q.Head().ID)
	}
}

func TestClarificationQueue_FullAtCapacity(t *testing.T) {
	q := newClarificationQueue(2)
	q.Push(&ClarificationRequest{ID: "a"})
	if q.Full() {
		t.Fatalf("queue with 1/2 items should not be full")
	}
	q.Push(&ClarificationRequest{ID: "b"})
	if !q.Full() {
		t.Fatalf("queue with 2/2 items should be full")
	}
}

func TestClarificationQueue_RemoveByID(t *testing.T) {
	q := newClarificationQueue(10)
	q.Push(&ClarificationRequest{ID: "a"})
	q.Push(&ClarificationRequest{ID: "b"})
	q.Push(&ClarificationRequest{ID: "c"})

	removed := q.RemoveByID("b")
	if removed == nil || removed.ID != "b" {
		t.Fatalf("expected to remove b, got %+v", removed)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 remaining, got %d", q.Len())
	}
	if q.RemoveByID("b") != nil {
		t.Fatalf("removing an absent id should return nil")
	}
}

func TestClarificationQueue_RemoveBySource(t *testing.T) {
	q := newClarificationQueue(10)
	q.Push(&ClarificationRequest{ID: "a", SourceID: "p1"})
	q.Push(&ClarificationRequest{ID: "b", SourceID: "p2"})
	q.Push(&ClarificationRequest{ID: "c", SourceID: "p1"})

	removed := q.RemoveBySource("p1")
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %d", len(removed))
	}
	if q.Len() != 1 || q.Head().ID != "b" {
		t.Fatalf("expected only b left, got %+v", q.items)
	}
}
