// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gelf

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TableOptions configures a Table's bounds and reaper cadence. Modeled on
// the options-struct constructor idiom used for ChunkAssembler.
type TableOptions struct {
	// TTL is the max age a never-completed entry may reach before the
	// reaper evicts it. Zero selects DefaultTTL.
	TTL time.Duration
	// ReapInterval is how often the reaper sweeps for expired entries.
	// Zero selects DefaultReapInterval.
	ReapInterval time.Duration
	// MaxEntries bounds the table; when exceeded, the oldest incomplete
	// entry is evicted first to admit the new one. Zero means unbounded.
	MaxEntries int
}

const (
	// DefaultTTL is the default age after which an incomplete message is
	// evicted from the Chunk Table.
	DefaultTTL = 60 * time.Second
	// DefaultReapInterval is the default cadence of the age-based reaper.
	DefaultReapInterval = 10 * time.Second
)

// Table is the Chunk Table: a mapping from message id to in-progress
// Message, keyed by the id carried in each chunk header. The ingest
// Supervisor shares one Table across all of its Inputs; the mutex below
// serializes their Accept calls and lets a background reaper goroutine
// evict stale entries concurrently with them.
type Table struct {
	opts TableOptions

	mu      sync.Mutex
	entries map[uint64]*Message

	completed atomic.Uint64
	evicted   atomic.Uint64
	rejected  atomic.Uint64
	pending   atomic.Int32
}

// NewTable constructs a Table with the given options, defaulting zero
// fields to DefaultTTL/DefaultReapInterval.
func NewTable(opts TableOptions) *Table {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	return &Table{
		opts:    opts,
		entries: make(map[uint64]*Message),
	}
}

// Accept feeds one chunk into the table. Per the spec: seq_max == 1
// bypasses the table entirely (single-chunk fast path); otherwise the
// chunk is written into the entry for hdr.MessageID (created on first
// sight), and if that write completes the message, the entry is removed
// from the table and handed back to the caller.
//
// payload is the full received datagram; the chunk's own bytes begin at
// HeaderSize within it (matching the teacher's pattern of handing whole
// buffers down rather than slicing eagerly).
func (t *Table) Accept(hdr ChunkHeader, payload []byte) (msg *Message, complete bool) {
	if hdr.SeqMax == 1 {
		m, ok := NewMessageWithBuf(1, payload, 0, HeaderSize)
		if !ok {
			t.rejected.Add(1)
			return nil, false
		}
		t.completed.Add(1)
		return m, true
	}

	t.mu.Lock()
	m, ok := t.entries[hdr.MessageID]
	if !ok {
		if t.opts.MaxEntries > 0 && len(t.entries) >= t.opts.MaxEntries {
			t.evictOldestLocked()
		}
		m = NewMessage(hdr.SeqMax)
		t.entries[hdr.MessageID] = m
		t.pending.Store(int32(len(t.entries)))
	}
	if err := m.Write(int(hdr.SeqNum), payload, HeaderSize); err != nil {
		t.mu.Unlock()
		t.rejected.Add(1)
		return nil, false
	}
	done := m.Complete()
	if done {
		delete(t.entries, hdr.MessageID)
		t.pending.Store(int32(len(t.entries)))
	}
	t.mu.Unlock()

	if done {
		t.completed.Add(1)
		return m, true
	}
	return nil, false
}

// evictOldestLocked removes the entry with the oldest createdAt. Caller
// must hold t.mu.
func (t *Table) evictOldestLocked() {
	var oldestID uint64
	var oldestAt time.Time
	first := true
	for id, m := range t.entries {
		if first || m.createdAt.Before(oldestAt) {
			oldestID, oldestAt, first = id, m.createdAt, false
		}
	}
	if !first {
		delete(t.entries, oldestID)
		t.evicted.Add(1)
	}
}

// reapExpired sweeps the table once, evicting entries older than TTL.
func (t *Table) reapExpired() {
	cutoff := time.Now().Add(-t.opts.TTL)
	t.mu.Lock()
	for id, m := range t.entries {
		if m.createdAt.Before(cutoff) {
			delete(t.entries, id)
			t.evicted.Add(1)
		}
	}
	t.pending.Store(int32(len(t.entries)))
	t.mu.Unlock()
}

// Run drives the age-based reaper until ctx is canceled. Intended to be
// launched as its own goroutine by the ingest supervisor.
func (t *Table) Run(ctx context.Context) {
	ticker := time.NewTicker(t.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.reapExpired()
		case <-ctx.Done():
			return
		}
	}
}

// TableStats is a lock-free snapshot of Table counters, in the same
// style as ChunkAssembler.Stats().
type TableStats struct {
	Completed uint64
	Evicted   uint64
	Rejected  uint64
	Pending   int32
}

// Stats returns a snapshot of the table's counters without taking the
// entries mutex.
func (t *Table) Stats() TableStats {
	return TableStats{
		Completed: t.completed.Load(),
		Evicted:   t.evicted.Load(),
		Rejected:  t.rejected.Load(),
		Pending:   t.pending.Load(),
	}
}
