// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pachyderm

import (
	"testing"

	"github.com/nishisan-dev/loutd/internal/record"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Repo != "log_events" || cfg.RepoBranch != "master" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.BatchMinutes != 10 {
		t.Fatalf("expected batch_min default of 10 minutes, got %d", cfg.BatchMinutes)
	}
}

func TestShipper_StagesToOnDiskBatchFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchDirectory = t.TempDir()
	cfg.BatchMaxSize = 1

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if s.ShouldFlush() {
		t.Fatal("expected an empty staging file not to be due for flush")
	}
	if err := s.Stage(record.New(map[string]any{"message": "hello"})); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", s.Pending())
	}
	if !s.ShouldFlush() {
		t.Fatal("expected a staged record to exceed the 1-byte batch_max_size")
	}
}
