// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds small helpers shared by relaybroker's cmd/
// entrypoints.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Every
// relaybroker binary's main() calls this for errors returned from its
// run() function, before a structured logger necessarily exists.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
