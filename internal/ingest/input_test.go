// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/loutd/internal/gelf"
	"github.com/nishisan-dev/loutd/internal/record"
	"github.com/nishisan-dev/loutd/internal/route"
	"github.com/nishisan-dev/loutd/internal/sink"
)

type fakeSinks struct {
	mu      sync.Mutex
	offered []*record.Record
}

func (f *fakeSinks) Offer(name string, rec *record.Record) (sink.OfferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offered = append(f.offered, rec)
	return sink.OfferAccepted, nil
}

func (f *fakeSinks) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offered)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// B1/S1: a single-chunk (whole-datagram) plain JSON message is decoded
// and dispatched to its routed sink.
func TestInput_DispatchesPlainJSONDatagram(t *testing.T) {
	routes := route.NewTable([]route.RouteSpec{{Name: "r1", Input: "udp0", Output: "out0"}})
	table := gelf.NewTable(gelf.TableOptions{})
	sinks := &fakeSinks{}

	in, err := NewInput("udp0", "127.0.0.1:0", 8192, table, routes, sinks, testLogger())
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	defer in.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()

	conn, err := net.Dial("udp", in.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"message":"hello"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sinks.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sinks.count() != 1 {
		t.Fatalf("expected 1 dispatched record, got %d", sinks.count())
	}

	cancel()
	<-done
}

// S4: a chunk header whose magic is well-formed but not one of the
// three recognized compression markers must be treated as a whole
// unchunked plaintext datagram, not fed into the chunk table.
func TestInput_UnrecognizedMagicFallsBackToPlainDecode(t *testing.T) {
	routes := route.NewTable([]route.RouteSpec{{Name: "r1", Input: "udp0", Output: "out0"}})
	table := gelf.NewTable(gelf.TableOptions{})
	sinks := &fakeSinks{}

	in, err := NewInput("udp0", "127.0.0.1:0", 8192, table, routes, sinks, testLogger())
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	defer in.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		in.Run(ctx)
		close(done)
	}()

	conn, err := net.Dial("udp", in.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// A whole-datagram plaintext message for an unrecognized magic has no
	// separate header section per the wire format — its own bytes are
	// the only bytes on the wire. This literal is chosen so its first 12
	// bytes happen to satisfy ParseChunkHeader's soft gate (seq_max != 0
	// and seq_num < seq_max, read from offsets 10/11) with a magic value
	// that isn't gzip/snappy/plain, so the fix under test (checking
	// IsChunkedMagic before honoring the header) is actually exercised.
	datagram := []byte(`{"k":"xyzwAz"}`)
	if _, err := conn.Write(datagram); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sinks.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sinks.count() != 1 {
		t.Fatalf("expected the unrecognized-magic datagram to be decoded as plain JSON, got %d dispatched records", sinks.count())
	}
	if stats := table.Stats(); stats.Pending != 0 || stats.Completed != 0 {
		t.Fatalf("expected the chunk table untouched by an unrecognized magic, got %+v", stats)
	}

	cancel()
	<-done
}

// disconnectedSinks always reports OfferDisconnected, simulating a
// sink Worker that has already terminated.
type disconnectedSinks struct{}

func (disconnectedSinks) Offer(name string, rec *record.Record) (sink.OfferResult, error) {
	return sink.OfferDisconnected, fmt.Errorf("sink %q: disconnected", name)
}

// S6: a disconnected sink must surface as a fatal error out of Run, not
// just get logged and skipped.
func TestInput_DisconnectedSinkIsFatal(t *testing.T) {
	routes := route.NewTable([]route.RouteSpec{{Name: "r1", Input: "udp0", Output: "out0"}})
	table := gelf.NewTable(gelf.TableOptions{})

	in, err := NewInput("udp0", "127.0.0.1:0", 8192, table, routes, disconnectedSinks{}, testLogger())
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	defer in.Close()

	runDone := make(chan error, 1)
	go func() { runDone <- in.Run(context.Background()) }()

	conn, err := net.Dial("udp", in.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(`{"message":"hello"}`)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case err := <-runDone:
		if err == nil {
			t.Fatal("expected Run to return a fatal error once a sink reports disconnected")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the sink disconnected")
	}
}
