// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package sink implements the Sink Worker: a bounded-queue goroutine
// driving one configured output through its batch/flush/retry cycle.
// State tracking and lock-free stats snapshots follow the atomic-counter
// idiom used by the teacher's ChunkAssembler; the retry/backoff constants
// follow the teacher's dispatcher.go naming convention.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/loutd/internal/record"
)

// State is the Sink Worker's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateRunning
	StateFlushing
	StateReconnecting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateFlushing:
		return "flushing"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

const (
	// recvTimeout is how long the worker's main loop waits on the input
	// channel before checking flush conditions, matching the 100ms
	// cooperative poll interval from the batch engine design.
	recvTimeout = 100 * time.Millisecond

	// DefaultFailLimitNetwork is the default fail_count ceiling for
	// network sinks (Elasticsearch, S3) before a worker gives up.
	DefaultFailLimitNetwork = 20
	// DefaultFailLimitPachyderm is the lower ceiling used by the
	// Pachyderm sink, matching its subprocess-retry budget.
	DefaultFailLimitPachyderm = 10

	// DefaultRetryInterval is how long a worker waits after a transient
	// flush failure before attempting the next flush.
	DefaultRetryInterval = 30 * time.Second
)

// Shipper is the sink-specific half of a worker: how records accumulate
// into a batch, when that batch is due, and how it gets shipped. Each
// adapter package (stdout, es, s3, postgres, pachyderm) implements this
// using whatever staging strategy fits it — an in-memory slice for
// network sinks, or an *batch.Buffer-backed staging file for disk-backed
// ones.
type Shipper interface {
	// Stage appends rec to the pending batch.
	Stage(rec *record.Record) error
	// ShouldFlush reports whether the pending batch should be flushed.
	ShouldFlush() bool
	// Pending reports how many records are currently staged, used by
	// the worker's graceful-shutdown final flush to decide whether
	// there is anything left to ship regardless of the normal
	// time/size trigger.
	Pending() int
	// Flush ships the pending batch. On success it must clear pending
	// state; on a transient error it must leave the batch intact so the
	// same bytes are retried on the next attempt.
	Flush(ctx context.Context) error
	// Close releases resources held by the shipper (files, connections).
	Close() error
}

// Options configures a Worker's bounded queue depth and failure budget.
type Options struct {
	Name          string
	BufferMax     int
	FailLimit     int
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Worker drains one sink's bounded input channel, stages records into
// its Shipper, and drives the flush/retry cycle. It runs on its own
// goroutine, satisfying the "each sink runs independently" requirement
// without hand-rolled OS-thread pinning.
type Worker struct {
	name          string
	input         chan *record.Record
	shipper       Shipper
	failLimit     int
	retryInterval time.Duration
	logger        *slog.Logger

	state     atomic.Int32
	failCount atomic.Int32
	shipped   atomic.Uint64
	dropped   atomic.Uint64

	done chan struct{}
	err  error
}

// NewWorker constructs a Worker. The caller retains the returned
// *Worker to call Offer and Shutdown; Run must be launched in its own
// goroutine by the caller.
func NewWorker(opts Options, shipper Shipper) *Worker {
	if opts.BufferMax <= 0 {
		opts.BufferMax = 10000
	}
	if opts.FailLimit <= 0 {
		opts.FailLimit = DefaultFailLimitNetwork
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	w := &Worker{
		name:          opts.Name,
		input:         make(chan *record.Record, opts.BufferMax),
		shipper:       shipper,
		failLimit:     opts.FailLimit,
		retryInterval: opts.RetryInterval,
		logger:        opts.Logger,
		done:          make(chan struct{}),
	}
	w.state.Store(int32(StateConnecting))
	return w
}

// Offer attempts a non-blocking send of rec into the worker's bounded
// channel. It reports "full" when the queue is saturated (the record is
// dropped for this sink only) and "disconnected" when the worker's loop
// has already exited — which the caller must treat as fatal.
type OfferResult int

const (
	OfferAccepted OfferResult = iota
	OfferFull
	OfferDisconnected
)

// Offer implements the Input Loop's non-blocking fan-out step.
func (w *Worker) Offer(rec *record.Record) OfferResult {
	select {
	case <-w.done:
		return OfferDisconnected
	default:
	}
	select {
	case w.input <- rec:
		return OfferAccepted
	default:
		w.dropped.Add(1)
		return OfferFull
	}
}

// Done returns a channel closed once the worker's Run loop has exited,
// whether gracefully (after Shutdown) or fatally (fail_limit reached).
func (w *Worker) Done() <-chan struct{} { return w.done }

// Err returns the error that caused Run to exit, if any.
func (w *Worker) Err() error { return w.err }

// State returns the worker's current lifecycle stage.
func (w *Worker) State() State { return State(w.state.Load()) }

// Stats is a lock-free snapshot of a worker's counters.
type Stats struct {
	Name      string
	State     State
	FailCount int32
	Shipped   uint64
	Dropped   uint64
}

// Stats returns a snapshot without touching the input channel or batch.
func (w *Worker) Stats() Stats {
	return Stats{
		Name:      w.name,
		State:     w.State(),
		FailCount: w.failCount.Load(),
		Shipped:   w.shipped.Load(),
		Dropped:   w.dropped.Load(),
	}
}

// Shutdown closes the worker's input channel, signaling a graceful
// drain: Run will consume whatever is already buffered, flush one final
// batch, and exit.
func (w *Worker) Shutdown() {
	close(w.input)
}

// Run is the worker's main loop. It must be launched in its own
// goroutine. It returns when the worker reaches StateTerminal: because
// the input channel was closed and drained (graceful, nil error),
// because fail_count reached failLimit (fatal, non-nil error), or
// because ctx was cancelled (after a final flush, returning ctx.Err()).
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	defer w.shipper.Close()

	w.state.Store(int32(StateRunning))
	ticker := time.NewTicker(recvTimeout)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-w.input:
			if !ok {
				w.finalFlush(ctx)
				w.state.Store(int32(StateTerminal))
				return nil
			}
			if err := w.shipper.Stage(rec); err != nil {
				w.logger.Warn("sink: staging record failed", "sink", w.name, "error", err)
				continue
			}
			if w.shipper.ShouldFlush() {
				if terminal := w.flush(ctx); terminal {
					return w.err
				}
			}
		case <-ticker.C:
			if w.shipper.ShouldFlush() {
				if terminal := w.flush(ctx); terminal {
					return w.err
				}
			}
		case <-ctx.Done():
			w.finalFlush(ctx)
			w.state.Store(int32(StateTerminal))
			return ctx.Err()
		}
	}
}

// flush performs one flush attempt and applies the retry/backoff state
// machine. It returns true when the worker has become terminal (fatal).
func (w *Worker) flush(ctx context.Context) bool {
	w.state.Store(int32(StateFlushing))
	if err := w.shipper.Flush(ctx); err != nil {
		w.failCount.Add(1)
		w.state.Store(int32(StateReconnecting))
		w.logger.Warn("sink: flush failed, will retry", "sink", w.name,
			"fail_count", w.failCount.Load(), "fail_limit", w.failLimit, "error", err)
		if int(w.failCount.Load()) >= w.failLimit {
			w.err = fmt.Errorf("sink %q: exceeded fail_limit %d: %w", w.name, w.failLimit, err)
			w.state.Store(int32(StateTerminal))
			return true
		}
		time.Sleep(w.retryInterval)
		return false
	}
	w.failCount.Store(0)
	w.shipped.Add(1)
	w.state.Store(int32(StateRunning))
	return false
}

// finalFlush ships whatever remains staged during a graceful shutdown.
// A failure here is logged but not escalated: the process is already
// exiting and the staged bytes remain on disk for disk-backed shippers.
func (w *Worker) finalFlush(ctx context.Context) {
	if w.shipper.Pending() == 0 {
		return
	}
	if err := w.shipper.Flush(ctx); err != nil {
		w.logger.Error("sink: final flush on shutdown failed, batch left staged", "sink", w.name, "error", err)
		return
	}
	w.shipped.Add(1)
}
