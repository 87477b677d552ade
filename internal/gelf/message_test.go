// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gelf

import "testing"

// S1: single-chunk plain.
func TestMessage_SingleChunk(t *testing.T) {
	payload := []byte("012345678901234567890123456789")
	m, ok := NewMessageWithBuf(1, payload, 0, 0)
	if !ok {
		t.Fatal("expected NewMessageWithBuf to succeed")
	}
	out := make([]byte, 128)
	n, err := m.Read(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 30 {
		t.Fatalf("got %d bytes, want 30", n)
	}
	if string(out[:n]) != string(payload) {
		t.Fatalf("got %q, want %q", out[:n], payload)
	}
}

// S2: three in-order chunks, no offset.
func TestMessage_ThreeChunksInOrder(t *testing.T) {
	m := NewMessage(3)
	if err := m.Write(0, []byte("0123456789"), 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(1, []byte("abcdefghij"), 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(2, []byte("klmnopqrst"), 0); err != nil {
		t.Fatal(err)
	}
	if !m.Complete() {
		t.Fatal("expected message to be complete")
	}

	out := make([]byte, 512)
	n, err := m.Read(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "0123456789abcdefghijklmnopqrst"
	if n != len(want) {
		t.Fatalf("got %d bytes, want %d", n, len(want))
	}
	if string(out[:n]) != want {
		t.Fatalf("got %q, want %q", out[:n], want)
	}
}

// S3: same three chunks, each carrying a 12-byte prefix, offset=12.
func TestMessage_ThreeChunksWithOffset(t *testing.T) {
	prefix := "blahblahblah" // 12 bytes
	m := NewMessage(3)
	if err := m.Write(0, []byte(prefix+"0123456789"), 12); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(1, []byte(prefix+"abcdefghij"), 12); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(2, []byte(prefix+"klmnopqrst"), 12); err != nil {
		t.Fatal(err)
	}

	out := make([]byte, 512)
	n, err := m.Read(out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "0123456789abcdefghijklmnopqrst"
	if string(out[:n]) != want {
		t.Fatalf("got %q, want %q", out[:n], want)
	}
}

// P3: reading past EOF of a complete message returns 0, no error.
func TestMessage_ReadPastEOF(t *testing.T) {
	m, _ := NewMessageWithBuf(1, []byte("hello"), 0, 0)
	first := make([]byte, 16)
	if _, err := m.Read(first); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, err := m.Read(first)
	if err != nil {
		t.Fatalf("expected EOF without error, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes past EOF, got %d", n)
	}
}

// P4: reading before complete returns an error; no bytes copied.
func TestMessage_ReadBeforeComplete(t *testing.T) {
	m := NewMessage(2)
	if err := m.Write(0, []byte("0123456789"), 0); err != nil {
		t.Fatal(err)
	}
	out := []byte{0xff, 0xff, 0xff}
	n, err := m.Read(out)
	if err == nil {
		t.Fatal("expected an error reading an incomplete message")
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes copied, got %d", n)
	}
}

// Duplicate writes to the same slot overwrite silently without
// re-incrementing count (UDP may reorder/duplicate datagrams).
func TestMessage_DuplicateSlotOverwrite(t *testing.T) {
	m := NewMessage(2)
	if err := m.Write(0, []byte("first-value"), 0); err != nil {
		t.Fatal(err)
	}
	if err := m.Write(0, []byte("second-val"), 0); err != nil {
		t.Fatal(err)
	}
	if m.Count() != 1 {
		t.Fatalf("expected count to stay at 1 after overwrite, got %d", m.Count())
	}
	if err := m.Write(1, []byte("tail"), 0); err != nil {
		t.Fatal(err)
	}
	if !m.Complete() {
		t.Fatal("expected message to be complete after second unique slot")
	}
}

func TestMessage_WriteOutOfRange(t *testing.T) {
	m := NewMessage(2)
	if err := m.Write(5, []byte("x"), 0); err != ErrSlotOutOfRange {
		t.Fatalf("expected ErrSlotOutOfRange, got %v", err)
	}
}
