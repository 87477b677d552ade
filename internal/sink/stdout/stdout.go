// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package stdout implements the stdout sink adapter: append-only line
// output, or (in brief mode) a once-per-second message counter, as
// specified by the original output::stdout module. It never fails
// transiently, so it never drives the Sink Worker's retry path.
package stdout

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nishisan-dev/loutd/internal/record"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Shipper implements sink.Shipper for the stdout adapter.
type Shipper struct {
	w     io.Writer
	brief bool

	mu        sync.Mutex
	staged    []*record.Record
	lastPrint time.Time
	windowCnt int
}

// New constructs a stdout Shipper. When brief is true, records are not
// printed individually; instead a "N msgs / sec" counter line is emitted
// once per second.
func New(w io.Writer, brief bool) *Shipper {
	return &Shipper{w: w, brief: brief, lastPrint: time.Now()}
}

func (s *Shipper) Stage(rec *record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brief {
		s.windowCnt++
		return nil
	}
	s.staged = append(s.staged, rec)
	return nil
}

func (s *Shipper) ShouldFlush() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brief {
		return time.Since(s.lastPrint) >= time.Second && s.windowCnt > 0
	}
	return len(s.staged) > 0
}

func (s *Shipper) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brief {
		return s.windowCnt
	}
	return len(s.staged)
}

func (s *Shipper) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brief {
		fmt.Fprintf(s.w, "%d msgs / sec\n", s.windowCnt)
		s.windowCnt = 0
		s.lastPrint = time.Now()
		return nil
	}
	for _, rec := range s.staged {
		line, err := jsonAPI.Marshal(rec.Raw)
		if err != nil {
			continue
		}
		fmt.Fprintln(s.w, string(line))
	}
	s.staged = nil
	return nil
}

func (s *Shipper) Close() error { return nil }
