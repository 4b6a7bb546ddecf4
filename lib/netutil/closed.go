// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small TCP helpers shared by the broker server
// and the client library.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// teardown: EOF, an already-closed listener, a broken pipe, or a
// connection reset. A session's read loop and its writer goroutine
// see exactly these errors when the peer disconnects or the session
// is force-closed by the heartbeat monitor — none of them are worth
// logging as failures.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
