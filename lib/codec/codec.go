// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds a single envelope line. 1 MB is generous for a
// clarification question, its context, and a yap body; Decode rejects
// a longer line with ErrMalformed. The check runs once the whole line
// has been read, so it does not limit how much is buffered while a
// peer withholds the newline.
const maxLineSize = 1024 * 1024

// ErrMalformed wraps every error Decode returns because of bad input
// on the wire (invalid JSON, an oversized line), as opposed to an I/O
// or connection error. Callers use errors.Is(err, ErrMalformed) to
// decide whether to reply with an error envelope and keep reading, or
// to treat the connection as gone.
var ErrMalformed = errors.New("codec: malformed envelope")

// Decoder reads newline-delimited JSON envelopes from a byte stream,
// tolerating partial reads: a chunk that ends mid-envelope is buffered
// until the rest arrives. Decoder is not safe for concurrent use — the
// broker server and the client library each own one Decoder per
// connection, read from a single goroutine.
type Decoder struct {
	reader *bufio.Reader
}

// NewDecoder returns a Decoder reading from r. Callers should wrap r
// in an io.LimitReader upstream if they want to bound total bytes
// read across the connection's lifetime; NewDecoder itself only
// rejects single lines longer than maxLineSize.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: bufio.NewReaderSize(r, 4096)}
}

// Decode reads the next complete line and unmarshals it into v.
// Blank lines (bare "\n") are skipped, matching spec section 4.1's
// "empty lines are ignored". Returns io.EOF when the underlying
// stream is exhausted with no more complete lines pending.
func (d *Decoder) Decode(v any) error {
	for {
		line, err := d.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return err
		}

		trimmed := bytes.TrimRight(line, "\r\n")
		if len(trimmed) == 0 {
			if err != nil {
				return err
			}
			continue
		}
		if len(trimmed) > maxLineSize {
			return fmt.Errorf("%w: line exceeds %d bytes", ErrMalformed, maxLineSize)
		}

		if unmarshalErr := json.Unmarshal(trimmed, v); unmarshalErr != nil {
			return fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, unmarshalErr)
		}
		return nil
	}
}

// Encoder writes newline-delimited JSON envelopes to a byte stream.
// Encode is safe for concurrent use: writes are serialized under an
// internal mutex so two goroutines writing to the same connection
// never interleave partial lines (spec section 4.1: "writers ...
// never interleave bytes").
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v to JSON, appends a trailing line feed, and writes
// the result as a single Write call while holding the encoder's lock.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshaling envelope: %w", err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("codec: writing envelope: %w", err)
	}
	return nil
}
