// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package batch implements the sink-local staging buffer: an append-only
// on-disk file plus a byte/record counter, flushed and truncated as a
// unit once a sink adapter confirms delivery. Modeled on the teacher's
// AtomicWriter temp-then-commit idiom, adapted here to a reusable
// append/flush/retain cycle instead of a one-shot rename.
package batch

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Buffer is an append-only staging file for one sink. Records are never
// discarded from it until the sink has reported success for the batch
// containing them (P5/P6 in the testable-properties sense): on a
// transient shipping failure the file is left intact and retried whole.
type Buffer struct {
	path        string
	file        *os.File
	bytes       int64
	count       int
	lastFlushAt time.Time
}

// Open creates (or reopens) the staging file at path in append mode. An
// existing file's size is picked up so a restart does not silently lose
// a partially-staged batch.
func Open(path string) (*Buffer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("batch: opening staging file %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("batch: stat staging file %s: %w", path, err)
	}
	return &Buffer{
		path:        path,
		file:        f,
		bytes:       info.Size(),
		lastFlushAt: time.Now(),
	}, nil
}

// Append writes data to the staging file and counts it as one record.
func (b *Buffer) Append(data []byte) error {
	n, err := b.file.Write(data)
	if err != nil {
		return fmt.Errorf("batch: appending to %s: %w", b.path, err)
	}
	b.bytes += int64(n)
	b.count++
	return nil
}

// Bytes returns the number of bytes currently staged.
func (b *Buffer) Bytes() int64 { return b.bytes }

// Count returns the number of records appended since the last flush.
func (b *Buffer) Count() int { return b.count }

// Path returns the staging file's path, for shippers that need to read
// it directly (e.g. handing it to an upload or COPY call).
func (b *Buffer) Path() string { return b.path }

// ShouldFlush evaluates the size/time flush trigger: elapsed time since
// the last flush has passed interval, or the staged size/count has
// reached a configured bound.
func (b *Buffer) ShouldFlush(interval time.Duration, maxBytes int64, maxCount int) bool {
	if b.count == 0 {
		return false
	}
	if interval > 0 && time.Since(b.lastFlushAt) >= interval {
		return true
	}
	if maxBytes > 0 && b.bytes >= maxBytes {
		return true
	}
	if maxCount > 0 && b.count >= maxCount {
		return true
	}
	return false
}

// Ship rewinds the staging file to its start, hands it to ship, and on
// success truncates the file and resets counters. On a ship error the
// file is left exactly as it was (seek position aside) so the same bytes
// are retried on the next flush attempt.
func (b *Buffer) Ship(ship func(r io.ReadSeeker, count int, size int64) error) error {
	if b.count == 0 {
		return nil
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("batch: seeking staging file %s: %w", b.path, err)
	}
	if err := ship(b.file, b.count, b.bytes); err != nil {
		return err
	}
	return b.reset()
}

// reset truncates the staging file and clears counters after a
// successful ship.
func (b *Buffer) reset() error {
	if err := b.file.Truncate(0); err != nil {
		return fmt.Errorf("batch: truncating staging file %s: %w", b.path, err)
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("batch: reseeking staging file %s: %w", b.path, err)
	}
	b.bytes = 0
	b.count = 0
	b.lastFlushAt = time.Now()
	return nil
}

// Close closes the underlying staging file.
func (b *Buffer) Close() error {
	return b.file.Close()
}
