// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package pachyderm implements the Pachyderm sink adapter: records are
// staged newline-delimited to an on-disk batch.Buffer and shipped via
// the pachctl put-file subprocess, one file per batch named after the
// sink's hostname and the batch's UTC timestamp.
package pachyderm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/nishisan-dev/loutd/internal/batch"
	"github.com/nishisan-dev/loutd/internal/record"
	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// FailLimit is the consecutive put-file failure count past which the
// sink gives up, matching the original adapter's hardcoded limit.
const FailLimit = 10

// Config holds the per-output settings recognized by the Pachyderm
// adapter.
type Config struct {
	Repo                string `toml:"repo"`
	RepoBranch          string `toml:"repo_branch"`
	BatchDirectory      string `toml:"batch_directory"`
	BatchMaxSize        int64  `toml:"batch_max_size"`
	BatchMinutes        int    `toml:"batch_min"`
	PachydermBinaryPath string `toml:"pachyderm_binary_path"`
	PachdHost           string `toml:"pachd_host"`
}

// DefaultConfig mirrors the original adapter's defaults. Note
// batch_min is expressed in minutes, not seconds, unlike every other
// sink's batch interval setting.
func DefaultConfig() Config {
	return Config{
		Repo:                "log_events",
		RepoBranch:          "master",
		BatchDirectory:      "/var/lib/loutd",
		BatchMaxSize:        1024 * 1024 * 1024,
		BatchMinutes:        10,
		PachydermBinaryPath: "/opt/pachyderm/bin/pachctl",
		PachdHost:           "localhost",
	}
}

// Shipper implements sink.Shipper for Pachyderm.
type Shipper struct {
	cfg      Config
	hostname string
	buf      *batch.Buffer
}

// New opens the on-disk staging file at <BatchDirectory>/pachyderm_batch
// and resolves the local hostname used in each put-file commit path.
func New(cfg Config) (*Shipper, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("pachyderm: resolving hostname: %w", err)
	}
	if err := os.MkdirAll(cfg.BatchDirectory, 0o755); err != nil {
		return nil, fmt.Errorf("pachyderm: creating batch directory: %w", err)
	}
	buf, err := batch.Open(cfg.BatchDirectory + "/pachyderm_batch")
	if err != nil {
		return nil, fmt.Errorf("pachyderm: opening batch file: %w", err)
	}
	return &Shipper{cfg: cfg, hostname: hostname, buf: buf}, nil
}

func (s *Shipper) Stage(rec *record.Record) error {
	line, err := jsonAPI.Marshal(rec.Raw)
	if err != nil {
		return fmt.Errorf("pachyderm: marshaling record: %w", err)
	}
	line = append(line, '\n')
	return s.buf.Append(line)
}

func (s *Shipper) ShouldFlush() bool {
	return s.buf.ShouldFlush(time.Duration(s.cfg.BatchMinutes)*time.Minute, s.cfg.BatchMaxSize, 0)
}

func (s *Shipper) Pending() int { return s.buf.Count() }

// Flush runs pachctl put-file against the staged batch file path,
// committing it within the configured repo/branch as
// <hostname>_<UTC timestamp>.
func (s *Shipper) Flush(ctx context.Context) error {
	if s.buf.Count() == 0 {
		return nil
	}
	dest := s.hostname + "_" + time.Now().UTC().Format("20060102T150405Z")
	cmd := exec.CommandContext(ctx, s.cfg.PachydermBinaryPath,
		"put-file", s.cfg.Repo, s.cfg.RepoBranch, dest, "-c", "-f", s.buf.Path())
	var stderr, stdout bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pachyderm: put-file failed: %w (stderr=%s stdout=%s)", err, stderr.String(), stdout.String())
	}
	return s.buf.Ship(func(_ io.ReadSeeker, _ int, _ int64) error {
		return nil
	})
}

func (s *Shipper) Close() error { return s.buf.Close() }
