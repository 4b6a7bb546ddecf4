// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import "encoding/json"

// clarificationPayloadFields and yapPayloadFields list the JSON names
// ClarificationPayload and YapPayload assign meaning to. Anything else
// found in an inbound data object is opaque to the broker but must
// still travel with the request per spec section 6.
var clarificationPayloadFields = map[string]struct{}{
	"id": {}, "question": {}, "context": {}, "urgency": {},
	"timestamp": {}, "status": {}, "response": {},
}

var yapPayloadFields = map[string]struct{}{
	"id": {}, "message": {}, "mode": {}, "category": {},
	"task_context": {}, "timestamp": {},
}

// extraFields returns raw's top-level members whose keys aren't in
// known, so a router that only understands the documented schema can
// still carry unrecognized fields through to whoever it forwards the
// envelope to. Returns nil if raw isn't a JSON object or carries no
// unrecognized fields.
func extraFields(raw json.RawMessage, known map[string]struct{}) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil
	}
	for key := range known {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

// mergeExtra marshals payload and folds extra's keys into the
// resulting object, so fields the broker doesn't understand ride back
// out on the envelope it relays. payload's own fields always win on a
// name collision.
func mergeExtra(payload any, extra map[string]json.RawMessage) (json.RawMessage, error) {
	base, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range extra {
		if _, exists := merged[key]; !exists {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}
