// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net"
	"testing"
)

// Listener opens a TCP listener on 127.0.0.1 with an OS-assigned free
// port. The listener is closed automatically when the test completes.
//
// Use this instead of hardcoding a port so parallel tests never race
// over the same address.
func Listener(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("opening test listener: %v", err)
	}
	t.Cleanup(func() {
		_ = listener.Close()
	})
	return listener
}
