// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ingest implements the UDP Input Loop: one Input per
// configured binding receives datagrams, reassembles chunked GELF
// messages through a shared chunk Table, decodes completed messages,
// and fans each decoded record out to its routed sinks. Structurally
// this mirrors the teacher's server.Run accept loop (consecutive-error
// backoff, ctx.Done()-triggered listener close) adapted to
// net.ListenUDP's "no accept, just read" shape: there is one task per
// bound socket instead of one goroutine per accepted connection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nishisan-dev/loutd/internal/gelf"
	"github.com/nishisan-dev/loutd/internal/record"
	"github.com/nishisan-dev/loutd/internal/route"
	"github.com/nishisan-dev/loutd/internal/sink"
)

// maxConsecutiveErrorBackoff caps the accept-loop-style backoff applied
// after repeated socket read errors, matching server.Run's 5-second
// ceiling.
const maxConsecutiveErrorBackoff = 5 * time.Second

// SinkSet resolves a sink name to the Worker that should receive
// records routed to it.
type SinkSet interface {
	Offer(name string, rec *record.Record) (sink.OfferResult, error)
}

// dropLogInterval is how often a sink's full-queue drop is actually
// logged; per-drop logging on a saturated sink would itself become a
// flood, so only the first drop and every Nth one after it are reported.
const dropLogInterval = 100

// Input is one UDP binding: it owns its socket, feeds chunks into the
// chunk Table it was given (the Supervisor hands the same Table to every
// Input), and forwards completed messages to the routing table.
type Input struct {
	name    string
	conn    *net.UDPConn
	bufSize int
	table   *gelf.Table
	decoder *gelf.Decoder
	routes  *route.Table
	sinks   SinkSet
	logger  *slog.Logger

	droppedParse uint64
	dropCounts   map[string]uint64
	mu           sync.Mutex
}

// NewInput binds a UDP socket at url and constructs the Input that
// will read from it.
func NewInput(name, url string, bufSize int, table *gelf.Table, routes *route.Table, sinks SinkSet, logger *slog.Logger) (*Input, error) {
	addr, err := net.ResolveUDPAddr("udp", url)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolving %s: %w", url, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("ingest: listening on %s: %w", url, err)
	}
	if bufSize <= 0 {
		bufSize = 8192
	}
	return &Input{
		name:       name,
		conn:       conn,
		bufSize:    bufSize,
		table:      table,
		decoder:    gelf.NewDecoder(),
		routes:     routes,
		sinks:      sinks,
		logger:     logger,
		dropCounts: make(map[string]uint64),
	}, nil
}

// Run reads datagrams in a hot loop until ctx is cancelled, reassembling
// chunks, decoding completed messages, and fanning each decoded record
// out to every sink this input is routed to.
func (in *Input) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		in.conn.Close()
	}()

	bufPool := sync.Pool{New: func() any { return make([]byte, in.bufSize) }}
	consecutiveErrors := 0

	for {
		buf := bufPool.Get().([]byte)
		n, err := in.conn.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			consecutiveErrors++
			in.logger.Error("ingest: reading datagram", "input", in.name, "error", err, "consecutive_errors", consecutiveErrors)
			delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
			if delay > maxConsecutiveErrorBackoff {
				delay = maxConsecutiveErrorBackoff
			}
			time.Sleep(delay)
			continue
		}
		consecutiveErrors = 0

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		bufPool.Put(buf)

		if err := in.handleDatagram(datagram); err != nil {
			return err
		}
	}
}

// handleDatagram reassembles and decodes one received datagram and
// dispatches it to its routed sinks. A chunk header is only honored
// when its magic is one of the three recognized GELF compression
// markers (gelf.IsChunkedMagic); any other value — including a
// well-formed-looking header whose magic the wire format doesn't
// recognize — falls through to the whole-datagram plaintext path, per
// header.go's own documented magic dispatch rule.
func (in *Input) handleDatagram(datagram []byte) error {
	hdr, ok := gelf.ParseChunkHeader(datagram)
	if !ok || !gelf.IsChunkedMagic(hdr.Magic) {
		rec, err := in.decodePlain(datagram)
		if err != nil {
			in.countParseDrop()
			in.logger.Debug("ingest: dropping undecodable datagram", "input", in.name, "error", err)
			return nil
		}
		return in.dispatch(rec)
	}

	msg, complete := in.table.Accept(hdr, datagram)
	if !complete {
		return nil
	}
	decoded, err := in.decoder.Decode(hdr.Magic, msg)
	if err != nil {
		in.countParseDrop()
		in.logger.Debug("ingest: dropping undecodable message", "input", in.name, "error", err)
		return nil
	}
	return in.dispatch(record.New(decoded))
}

func (in *Input) decodePlain(datagram []byte) (*record.Record, error) {
	out, err := in.decoder.DecodeDatagram(datagram, gelf.ChunkHeader{}, false, nil)
	if err != nil {
		return nil, err
	}
	return record.New(out), nil
}

// dispatch offers rec to every sink this input is routed to. A
// disconnected sink is fatal: it is returned as an error so Run
// propagates it out of the Supervisor's errgroup and the whole daemon
// shuts down, per the "ingest panics with the sink name" contract
// (see supervisor.go).
func (in *Input) dispatch(rec *record.Record) error {
	for _, edge := range in.routes.Edges(in.name) {
		if !edge.Matches(rec) {
			continue
		}
		result, err := in.sinks.Offer(edge.OutputName, rec)
		if err != nil {
			in.logger.Error("ingest: sink disconnected", "input", in.name, "sink", edge.OutputName, "error", err)
			return err
		}
		if result == sink.OfferFull {
			in.countSinkDrop(edge.OutputName)
		}
	}
	return nil
}

// countSinkDrop increments edge's full-queue drop counter and logs
// only every dropLogInterval-th drop, so a saturated sink doesn't
// flood the log with one line per dropped record.
func (in *Input) countSinkDrop(sinkName string) {
	in.mu.Lock()
	in.dropCounts[sinkName]++
	count := in.dropCounts[sinkName]
	in.mu.Unlock()

	if count%dropLogInterval == 1 {
		in.logger.Warn("ingest: sink queue full, dropping record", "input", in.name, "sink", sinkName, "dropped_total", count)
	}
}

func (in *Input) countParseDrop() {
	in.mu.Lock()
	in.droppedParse++
	in.mu.Unlock()
}

// Close closes the underlying socket.
func (in *Input) Close() error { return in.conn.Close() }
