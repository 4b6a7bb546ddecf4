// Copyright 2026 The Relaybroker Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
)

type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

type sample struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// TestDecodeAcrossArbitraryChunkBoundaries verifies spec section 8's
// framing property: for any way a byte stream is split into read
// chunks, the decoder recovers exactly the same sequence of envelopes.
func TestDecodeAcrossArbitraryChunkBoundaries(t *testing.T) {
	full := `{"id":"a","body":"one"}` + "\n" + `{"id":"b","body":"two"}` + "\n\n" + `{"id":"c","body":"three"}` + "\n"

	splits := [][]int{
		{len(full)},                                  // whole thing at once
		{1, len(full) - 1},                            // split mid-first-line
		{5, 10, 15, len(full) - 30},                   // several small chunks
		{len(full) / 2, len(full) - len(full)/2},      // split near the middle
	}

	for _, split := range splits {
		var chunks [][]byte
		offset := 0
		for _, size := range split {
			if size <= 0 {
				continue
			}
			end := offset + size
			if end > len(full) {
				end = len(full)
			}
			chunks = append(chunks, []byte(full[offset:end]))
			offset = end
		}
		if offset < len(full) {
			chunks = append(chunks, []byte(full[offset:]))
		}

		decoder := NewDecoder(&chunkReader{chunks: chunks})

		var got []sample
		for {
			var s sample
			err := decoder.Decode(&s)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				t.Fatalf("split %v: decode: %v", split, err)
			}
			got = append(got, s)
		}

		if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
			t.Fatalf("split %v: got %+v", split, got)
		}
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	decoder := NewDecoder(bytes.NewBufferString("\n\n" + `{"id":"x","body":"y"}` + "\n"))
	var s sample
	if err := decoder.Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.ID != "x" {
		t.Fatalf("got id %q, want x", s.ID)
	}
}

func TestDecodeInvalidJSON(t *testing.T) {
	decoder := NewDecoder(bytes.NewBufferString("not json\n"))
	var s sample
	if err := decoder.Decode(&s); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestEncodeWritesOneLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf)
	if err := encoder.Encode(sample{ID: "a", Body: "one"}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := encoder.Encode(sample{ID: "b", Body: "two"}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoder := NewDecoder(&buf)
	var first, second sample
	if err := decoder.Decode(&first); err != nil {
		t.Fatalf("decode first: %v", err)
	}
	if err := decoder.Decode(&second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if first.ID != "a" || second.ID != "b" {
		t.Fatalf("got %+v, %+v", first, second)
	}
}

func TestEncodeConcurrentDoesNotInterleave(t *testing.T) {
	var buf syncBuffer
	encoder := NewEncoder(&buf)

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func(i int) {
			_ = encoder.Encode(sample{ID: "x", Body: "payload"})
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	decoder := NewDecoder(bytes.NewReader(buf.data))
	count := 0
	for {
		var s sample
		err := decoder.Decode(&s)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("decode: %v (interleaved output)", err)
		}
		count++
	}
	if count != 20 {
		t.Fatalf("got %d envelopes, want 20", count)
	}
}

// syncBuffer serializes writes so the test isolates interleaving
// caused by Encoder itself, not by a racy io.Writer.
type syncBuffer struct {
	mu   sync.Mutex
	data []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}
