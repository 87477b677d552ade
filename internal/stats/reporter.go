// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stats periodically logs sink and chunk-table counters,
// adapted from the agent daemon's periodic stats-reporter goroutine.
package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nishisan-dev/loutd/internal/gelf"
	"github.com/nishisan-dev/loutd/internal/sink"
)

// SinkStatsProvider is anything that can report a sink.Stats snapshot;
// satisfied by *sink.Worker.
type SinkStatsProvider interface {
	Stats() sink.Stats
}

// ChunkTableStatsProvider is anything that can report a gelf.TableStats
// snapshot; satisfied by *gelf.Table.
type ChunkTableStatsProvider interface {
	Stats() gelf.TableStats
}

type sinkSnapshot struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	FailCount int32  `json:"fail_count"`
	Shipped   uint64 `json:"shipped"`
	Dropped   uint64 `json:"dropped"`
}

// Reporter emits periodic counters for every configured sink plus the
// shared chunk reassembly table.
type Reporter struct {
	sinks   []SinkStatsProvider
	chunks  ChunkTableStatsProvider
	logger  *slog.Logger
	start   time.Time
	interval time.Duration
}

// NewReporter builds a Reporter that logs at interval.
func NewReporter(sinks []SinkStatsProvider, chunks ChunkTableStatsProvider, interval time.Duration, logger *slog.Logger) *Reporter {
	return &Reporter{sinks: sinks, chunks: chunks, logger: logger, start: time.Now(), interval: interval}
}

// Run blocks, logging stats on each tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("stats reporter started", "interval", r.interval)
	for {
		select {
		case <-ticker.C:
			r.report()
		case <-ctx.Done():
			r.logger.Info("stats reporter stopped")
			return
		}
	}
}

func (r *Reporter) report() {
	snapshots := make([]sinkSnapshot, 0, len(r.sinks))
	for _, s := range r.sinks {
		st := s.Stats()
		snapshots = append(snapshots, sinkSnapshot{
			Name:      st.Name,
			State:     st.State.String(),
			FailCount: st.FailCount,
			Shipped:   st.Shipped,
			Dropped:   st.Dropped,
		})
	}
	sinksJSON, _ := json.Marshal(snapshots)

	attrs := []any{
		"uptime_seconds", int64(time.Since(r.start).Seconds()),
		"sinks", json.RawMessage(sinksJSON),
	}
	if r.chunks != nil {
		cs := r.chunks.Stats()
		attrs = append(attrs,
			"chunk_table_pending", cs.Pending,
			"chunk_table_completed", cs.Completed,
			"chunk_table_evicted", cs.Evicted,
			"chunk_table_rejected", cs.Rejected,
		)
	}
	r.logger.Info("ingest stats", attrs...)
}
