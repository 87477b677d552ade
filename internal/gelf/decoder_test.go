// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gelf

import (
	"encoding/json"
	"strings"
	"testing"
)

// fixtureJSON builds a JSON array whose first element carries the
// well-known "_id" used by the seed test suite, padded with filler
// records so the encoded payload exceeds 8 kB before compression.
func fixtureJSON(t *testing.T) []byte {
	t.Helper()
	type record struct {
		ID    string `json:"_id"`
		Value int    `json:"value"`
		Note  string `json:"note"`
	}
	records := []record{{ID: "57e555ef3067346f32332702", Value: 0, Note: "seed record"}}
	filler := strings.Repeat("x", 64)
	for i := 1; i < 140; i++ {
		records = append(records, record{ID: "filler", Value: i, Note: filler})
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatalf("marshaling fixture: %v", err)
	}
	if len(data) <= 8000 {
		t.Fatalf("fixture too small: %d bytes", len(data))
	}
	return data
}

// P2 / S4: round-trip through Encode, fed in order to a Table, must
// decode back to the original JSON value, and the seed suite's specific
// _id assertion must hold. The encoder's natural chunk count depends on
// the runtime gzip compression ratio, so this asserts "more than one
// chunk, only the last one completes the message" rather than hardcoding
// an exact chunk count.
func TestDecoder_RoundTripViaTable(t *testing.T) {
	data := fixtureJSON(t)

	chunks, err := Encode(data, 1500)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected a multi-chunk encoding, got %d chunk(s)", len(chunks))
	}

	tbl := NewTable(TableOptions{})
	dec := NewDecoder()

	var (
		msg      *Message
		complete bool
	)
	for i, c := range chunks {
		hdr, ok := ParseChunkHeader(c)
		if !ok {
			t.Fatalf("chunk %d: expected a valid header", i)
		}
		msg, complete = tbl.Accept(hdr, c)
		if i < len(chunks)-1 && complete {
			t.Fatalf("chunk %d: message completed before the final chunk", i)
		}
	}
	if !complete {
		t.Fatal("expected completion after the final chunk")
	}

	decoded, err := dec.Decode(MagicGzip, msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	arr, ok := decoded.([]any)
	if !ok || len(arr) == 0 {
		t.Fatalf("expected a non-empty JSON array, got %T", decoded)
	}
	first, ok := arr[0].(map[string]any)
	if !ok {
		t.Fatalf("expected the first element to be an object, got %T", arr[0])
	}
	if id, _ := first["_id"].(string); id != "57e555ef3067346f32332702" {
		t.Fatalf("got _id %q, want 57e555ef3067346f32332702", id)
	}
}

// Feeding chunks out of order must still produce the same decoded JSON
// value once the last one arrives (B3 extended to the decode stage).
func TestDecoder_RoundTripOutOfOrder(t *testing.T) {
	data := fixtureJSON(t)
	chunks, err := Encode(data, 1500)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("need at least 3 chunks for a meaningful reorder, got %d", len(chunks))
	}

	reordered := append([][]byte{chunks[len(chunks)-1]}, chunks[:len(chunks)-1]...)

	tbl := NewTable(TableOptions{})
	dec := NewDecoder()
	var (
		msg      *Message
		complete bool
	)
	for _, c := range reordered {
		hdr, _ := ParseChunkHeader(c)
		msg, complete = tbl.Accept(hdr, c)
	}
	if !complete {
		t.Fatal("expected completion after all reordered chunks arrived")
	}

	decoded, err := dec.Decode(MagicGzip, msg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	arr := decoded.([]any)
	first := arr[0].(map[string]any)
	if id, _ := first["_id"].(string); id != "57e555ef3067346f32332702" {
		t.Fatalf("got _id %q after reorder, want 57e555ef3067346f32332702", id)
	}
}

func TestDecoder_UnrecognizedMagicTreatedAsPlainJSON(t *testing.T) {
	dec := NewDecoder()
	datagram := []byte(`{"message":"hello"}`)

	hdr, ok := ParseChunkHeader(datagram)
	decoded, err := dec.DecodeDatagram(datagram, hdr, ok, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok || m["message"] != "hello" {
		t.Fatalf("got %#v, want plain JSON object", decoded)
	}
}

func TestDecoder_MalformedJSONIsAnErrorNotAPanic(t *testing.T) {
	dec := NewDecoder()
	m, ok := NewMessageWithBuf(1, []byte("not json"), 0, 0)
	if !ok {
		t.Fatal("expected message construction to succeed")
	}
	if _, err := dec.Decode(MagicPlain, m); err == nil {
		t.Fatal("expected a parse error for malformed JSON")
	}
}
