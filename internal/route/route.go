// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package route builds the static input-to-sink routing table from
// configuration and evaluates per-edge filters at fan-out time.
package route

import "github.com/nishisan-dev/loutd/internal/record"

// Edge is one (input, output) pairing from the configured route table,
// with an optional JSON-pointer filter.
type Edge struct {
	InputName  string
	OutputName string
	// IfHasField, when non-empty, is an RFC 6901 JSON pointer that must
	// resolve on a record (to any value, including null) for the record
	// to be delivered to OutputName.
	IfHasField string
}

// Matches reports whether rec passes this edge's filter. An edge with no
// filter always matches.
func (e Edge) Matches(rec *record.Record) bool {
	if e.IfHasField == "" {
		return true
	}
	_, found := rec.Resolve(e.IfHasField)
	return found
}

// Table is the routing graph: for each input name, the ordered list of
// sink edges a decoded record from that input should be offered to. It
// is built once at startup and never mutated afterward, so it requires
// no synchronization to share across the ingest and sink goroutines.
type Table struct {
	byInput map[string][]Edge
}

// RouteSpec is one [route.<name>] entry as loaded from configuration.
type RouteSpec struct {
	Name       string
	Input      string
	Output     string
	IfHasField string
}

// NewTable builds a Table from a flat list of route specs, grouping
// edges by their input name for fast lookup from the input loop.
func NewTable(specs []RouteSpec) *Table {
	t := &Table{byInput: make(map[string][]Edge)}
	for _, s := range specs {
		t.byInput[s.Input] = append(t.byInput[s.Input], Edge{
			InputName:  s.Input,
			OutputName: s.Output,
			IfHasField: s.IfHasField,
		})
	}
	return t
}

// Edges returns the sink edges configured for inputName, in declaration
// order. The returned slice must not be mutated by the caller.
func (t *Table) Edges(inputName string) []Edge {
	return t.byInput[inputName]
}
