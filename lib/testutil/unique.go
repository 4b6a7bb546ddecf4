// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns a string of the form "prefix-N" where N is a
// monotonically increasing integer. Use this instead of time.Now() when
// a test needs distinguishable client IDs, request IDs, or yap bodies.
//
//	clientID := testutil.UniqueID("producer")   // "producer-1", "producer-2", ...
//	requestID := testutil.UniqueID("q")         // "q-3", ...
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
