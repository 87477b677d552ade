// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gelf

import "testing"

func TestParseChunkHeader_TooShort(t *testing.T) {
	_, ok := ParseChunkHeader([]byte{1, 2, 3})
	if ok {
		t.Fatal("expected ok=false for a buffer shorter than HeaderSize")
	}
}

func TestParseChunkHeader_SeqMaxZero(t *testing.T) {
	buf := make([]byte, HeaderSize)
	PutChunkHeader(buf, ChunkHeader{Magic: MagicGzip, MessageID: 1, SeqNum: 0, SeqMax: 0})
	if _, ok := ParseChunkHeader(buf); ok {
		t.Fatal("seq_max == 0 must be rejected")
	}
}

// B2: seq_num >= seq_max at entry is rejected.
func TestParseChunkHeader_SeqNumOutOfRange(t *testing.T) {
	buf := make([]byte, HeaderSize)
	PutChunkHeader(buf, ChunkHeader{Magic: MagicGzip, MessageID: 1, SeqNum: 3, SeqMax: 3})
	if _, ok := ParseChunkHeader(buf); ok {
		t.Fatal("seq_num >= seq_max must be rejected")
	}
}

func TestParseChunkHeader_RoundTrip(t *testing.T) {
	want := ChunkHeader{Magic: MagicSnappy, MessageID: 0xdeadbeefcafebabe, SeqNum: 2, SeqMax: 5}
	buf := make([]byte, HeaderSize)
	PutChunkHeader(buf, want)

	got, ok := ParseChunkHeader(buf)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestIsChunkedMagic(t *testing.T) {
	for _, m := range []uint16{MagicGzip, MagicSnappy, MagicPlain} {
		if !IsChunkedMagic(m) {
			t.Errorf("expected %#x to be a recognized magic", m)
		}
	}
	if IsChunkedMagic(0x4242) {
		t.Error("unrecognized magic must report false")
	}
}
