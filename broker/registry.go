// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "sync"

// Registry indexes live sessions by client id (for uniqueness checks)
// and by role (for consumer iteration during routing). It is read by
// the router and the monitor and mutated by the server's connection
// handlers on registration and teardown; its lock is held only briefly
// and never across I/O.
type Registry struct {
	mu   sync.RWMutex
	byID map[ClientID]*Session
	// order records registration order per role, used to break ties in
	// the router's shortest-queue selection deterministically.
	order map[ClientID]uint64
	next  uint64
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:  make(map[ClientID]*Session),
		order: make(map[ClientID]uint64),
	}
}

// Add records session under its client id. Returns false without
// modifying the registry if a live session already holds that id.
func (r *Registry) Add(session *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[session.ID]; exists {
		return false
	}
	r.byID[session.ID] = session
	r.order[session.ID] = r.next
	r.next++
	return true
}

// Remove deletes the session with the given id, if present.
func (r *Registry) Remove(id ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	delete(r.order, id)
}

// Get returns the session with the given id, if live.
func (r *Registry) Get(id ClientID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.byID[id]
	return session, ok
}

// Consumers returns every live consumer session, ordered by
// registration order (oldest first). The order is not part of the
// external contract (spec section 4.3.1) but must be deterministic so
// tie-breaking in load balancing is reproducible.
func (r *Registry) Consumers() []*Session {
	return r.byRole(RoleConsumer)
}

// Producers returns every live producer session, ordered by
// registration order.
func (r *Registry) Producers() []*Session {
	return r.byRole(RoleProducer)
}

func (r *Registry) byRole(role Role) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*Session, 0, len(r.byID))
	for _, session := range r.byID {
		if session.Role == role {
			matches = append(matches, session)
		}
	}
	// Simple insertion sort by registration order; the registry is
	// expected to hold at most a handful of sessions.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && r.order[matches[j].ID] < r.order[matches[j-1].ID]; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches
}
