// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package stdout

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/nishisan-dev/loutd/internal/record"
)

func TestShipper_LineMode(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false)

	s.Stage(record.New(map[string]any{"message": "hello"}))
	if !s.ShouldFlush() {
		t.Fatal("expected a staged record to be due for flush")
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected output to contain the record, got %q", buf.String())
	}
	if s.Pending() != 0 {
		t.Fatal("expected staged records to be cleared after flush")
	}
}

func TestShipper_BriefModeCountsStagedRecords(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, true)
	for i := 0; i < 5; i++ {
		s.Stage(record.New(map[string]any{"i": i}))
	}
	if s.Pending() != 5 {
		t.Fatalf("expected counter to track 5 staged records, got %d", s.Pending())
	}
}
