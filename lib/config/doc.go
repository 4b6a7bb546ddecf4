// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the broker's tunable defaults — listen
// address, queue depths, and timeouts — from an optional YAML file.
//
// [Default] returns the values named throughout spec section 4:
// port 8765, a 10-entry clarification queue, a 50-entry yap buffer
// flushed every 200ms, a 5s heartbeat interval, and a 15s client
// timeout. [Load] reads the file named by the RELAYBROKER_CONFIG
// environment variable, if set; [LoadFile] reads a specific path
// (wired to the broker binary's --config flag). Neither has a
// fallback search path — an unset environment variable and no --config
// flag just means "use [Default]", which every relaybroker binary
// treats as the normal case, not an error.
package config
