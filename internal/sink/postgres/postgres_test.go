// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package postgres

import (
	"context"
	"testing"

	"github.com/nishisan-dev/loutd/internal/translator"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Schema != "import" || cfg.BatchSecs != 300 || cfg.RetrySecs != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBHost != "localhost" || cfg.DBPort != "5432" {
		t.Fatalf("unexpected connection defaults: %+v", cfg)
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	cfg := DefaultConfig()
	_, err := New(context.Background(), cfg, translator.Schema{}, nil)
	if err == nil {
		t.Fatal("expected New to fail without DB_NAME/DB_USER/DB_PASS configured")
	}
}
