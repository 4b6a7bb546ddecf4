// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec implements relaybroker's wire framing: one JSON object
// per line, newline-terminated. It is the only place in the repository
// that reasons about partial reads and line splitting, so the broker
// server, the client library, and their tests share one framing
// implementation instead of three subtly different ones.
//
// A [Decoder] wraps any io.Reader and yields one decoded envelope per
// Decode call, buffering an arbitrary amount of trailing partial data
// between calls — callers may feed it one byte at a time or one
// megabyte at a time and get the same sequence of envelopes out. An
// [Encoder] wraps any io.Writer and serializes one envelope per Encode
// call under an internal mutex, so concurrent writers on the same
// connection never interleave partial lines.
package codec
