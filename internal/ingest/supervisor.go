// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/nishisan-dev/loutd/internal/gelf"
	"github.com/nishisan-dev/loutd/internal/record"
	"github.com/nishisan-dev/loutd/internal/route"
	"github.com/nishisan-dev/loutd/internal/sink"
)

// Supervisor owns every Input and sink Worker for one running daemon,
// and wires a disconnected sink's Offer failure into a fatal process
// shutdown via an errgroup — the idiomatic Go stand-in for spec.md's
// "ingest panics with the sink name" (a panic across goroutines is
// discouraged; a returned error that cancels the group's context
// achieves the same fail-fast outcome).
type Supervisor struct {
	inputs map[string]*Input
	sinks  map[string]*sink.Worker
	table  *gelf.Table
	logger *slog.Logger
}

// NewSupervisor constructs a Supervisor. Callers add inputs and sinks
// via AddInput/AddSink before calling Run.
func NewSupervisor(table *gelf.Table, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		inputs: make(map[string]*Input),
		sinks:  make(map[string]*sink.Worker),
		table:  table,
		logger: logger,
	}
}

// AddSink registers a sink Worker under name.
func (s *Supervisor) AddSink(name string, w *sink.Worker) {
	s.sinks[name] = w
}

// InputAddr returns the local address a registered input actually
// bound, which matters when its configured URL used port 0. Used by
// operators to log the resolved port and by tests driving a specific
// Input's socket.
func (s *Supervisor) InputAddr(name string) net.Addr {
	in, ok := s.inputs[name]
	if !ok {
		return nil
	}
	return in.conn.LocalAddr()
}

// AddInput constructs and registers an Input bound to url, routed via
// routes and fanning out through this Supervisor's sinks.
func (s *Supervisor) AddInput(name, url string, bufSize int, routes *route.Table) error {
	in, err := NewInput(name, url, bufSize, s.table, routes, s, s.logger)
	if err != nil {
		return err
	}
	s.inputs[name] = in
	return nil
}

// Offer implements SinkSet: it looks up the named sink and offers it
// rec, returning an error (instead of panicking) when that sink has
// already terminated — the caller (an Input) logs it and the
// Supervisor's errgroup tears the whole daemon down.
func (s *Supervisor) Offer(name string, rec *record.Record) (sink.OfferResult, error) {
	w, ok := s.sinks[name]
	if !ok {
		return sink.OfferFull, fmt.Errorf("ingest: route references unknown sink %q", name)
	}
	result := w.Offer(rec)
	if result == sink.OfferDisconnected {
		return result, fmt.Errorf("sink %q: disconnected", name)
	}
	return result, nil
}

// Run launches the chunk table reaper, every sink Worker, and every
// Input, and blocks until ctx is cancelled or any of them returns a
// fatal error — at which point every other goroutine is cancelled in
// turn via the errgroup's shared context.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.table.Run(gctx)
		return nil
	})

	for name, w := range s.sinks {
		name, w := name, w
		g.Go(func() error {
			if err := w.Run(gctx); err != nil {
				return fmt.Errorf("sink %q: %w", name, err)
			}
			return nil
		})
	}

	for name, in := range s.inputs {
		name, in := name, in
		g.Go(func() error {
			if err := in.Run(gctx); err != nil {
				return fmt.Errorf("input %q: %w", name, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Shutdown closes every sink's input channel so each Worker drains,
// flushes a final batch, and exits; combined with ctx cancellation
// (which stops every Input's read loop) this drives Run to return.
func (s *Supervisor) Shutdown() {
	for _, w := range s.sinks {
		w.Shutdown()
	}
}
