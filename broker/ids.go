// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "github.com/google/uuid"

// NewEnvelopeID returns a fresh envelope id. Envelope ids only need to
// be unique per envelope, never correlated back to anything, so a
// random UUID is sufficient — unlike request ids and yap ids, which
// callers assign themselves so they can be correlated across the
// wire.
func NewEnvelopeID() string {
	return uuid.NewString()
}
