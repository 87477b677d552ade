// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package translator projects decoded GELF records into per-mapping CSV
// files according to a schema, for the Postgres sink's COPY FROM STDIN
// pipeline. Semantics are grounded directly on the original Rust
// translator: same record_type_key/if_has_key skip rules, same
// numeric-to-string projection (including its float64 precision-loss
// behavior, preserved rather than silently fixed — see DESIGN.md), same
// flush/reopen protocol driven by a caller-supplied write callback.
package translator

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nishisan-dev/loutd/internal/jsonptr"
	"github.com/nishisan-dev/loutd/internal/record"
)

// Field is one projected CSV column.
type Field struct {
	Name string `json:"name"` // CSV header text
	Path string `json:"path"` // RFC 6901 JSON pointer into the record
}

// Mapping is one app/record-type's CSV projection. Fields is an ORDERED
// slice — the field list's declared order defines CSV column order, a
// data-model invariant stated explicitly enough that it overrides the
// original implementation's incidental use of a sorted map (see
// DESIGN.md).
type Mapping struct {
	Name     string  `json:"name"`
	IfHasKey string  `json:"if_has_key,omitempty"` // optional; pointer that must resolve for the record to apply
	Fields   []Field `json:"fields"`
}

// Schema is the full translator configuration: which record field names
// the record type, and the mapping table keyed by record-type value.
type Schema struct {
	RecordTypeKey string             `json:"record_type_key"`
	Mappings      map[string]Mapping `json:"mappings"`
}

// WriteFunc is invoked when a mapping's CSV file is due to ship. It must
// return true if the file was consumed and the translator may safely
// truncate and reopen it with a fresh header, or false to leave the file
// intact and retry later (e.g. the destination was unreachable).
type WriteFunc func(path string, mappingName string, count int) bool

// writer holds one mapping's open CSV writer plus its flush schedule.
type writer struct {
	path      string
	file      *os.File
	csv       *csv.Writer
	columns   []string
	count     int
	nextWrite time.Time
}

// Translator drives one CSV writer per schema mapping in writeDir,
// flushing each on its own write/retry interval.
type Translator struct {
	schema        Schema
	writeDir      string
	writeInterval time.Duration
	retryInterval time.Duration
	writeCB       WriteFunc

	outfiles map[string]*writer
}

// New constructs a Translator, opening one CSV writer (truncate, header
// row) per mapping in schema under writeDir.
func New(writeDir string, writeInterval, retryInterval time.Duration, schema Schema, writeCB WriteFunc) (*Translator, error) {
	if err := os.MkdirAll(writeDir, 0o755); err != nil {
		return nil, fmt.Errorf("translator: creating write dir %s: %w", writeDir, err)
	}
	t := &Translator{
		schema:        schema,
		writeDir:      writeDir,
		writeInterval: writeInterval,
		retryInterval: retryInterval,
		writeCB:       writeCB,
		outfiles:      make(map[string]*writer),
	}
	for name, mapping := range schema.Mappings {
		columns := make([]string, len(mapping.Fields))
		for i, f := range mapping.Fields {
			columns[i] = f.Name
		}
		path := filepath.Join(writeDir, name+".csv")
		w, err := newWriter(path, columns)
		if err != nil {
			return nil, fmt.Errorf("translator: opening writer for mapping %q: %w", name, err)
		}
		w.nextWrite = time.Now().Add(writeInterval)
		t.outfiles[name] = w
	}
	return t, nil
}

func newWriter(path string, columns []string) (*writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	cw := csv.NewWriter(f)
	if err := cw.Write(columns); err != nil {
		f.Close()
		return nil, err
	}
	cw.Flush()
	return &writer{path: path, file: f, csv: cw, columns: columns}, nil
}

// Process applies one decoded record to the schema: resolves the record
// type, finds its mapping, checks if_has_key, projects the ordered field
// list into a CSV row, and fires the write callback once that mapping's
// write_interval has elapsed. It returns the row count shipped if a
// flush happened, or (0, false) otherwise.
func (t *Translator) Process(rec *record.Record) (shipped int, didShip bool) {
	typeVal, ok := jsonptr.Resolve(rec.Raw, t.schema.RecordTypeKey)
	if !ok {
		return 0, false
	}
	typeName, ok := typeVal.(string)
	if !ok {
		return 0, false
	}

	mapping, ok := t.schema.Mappings[typeName]
	if !ok {
		return 0, false
	}
	if mapping.IfHasKey != "" {
		if _, found := jsonptr.Resolve(rec.Raw, mapping.IfHasKey); !found {
			return 0, false
		}
	}

	w := t.outfiles[typeName]
	row := make([]string, len(mapping.Fields))
	for i, f := range mapping.Fields {
		row[i] = projectCell(rec, f.Path)
	}
	if err := w.csv.Write(row); err != nil {
		return 0, false
	}
	w.csv.Flush()
	w.count++

	if !w.nextWrite.After(time.Now()) && w.count > 0 {
		return t.tryShip(typeName, w)
	}
	return 0, false
}

// projectCell resolves a field's pointer on the record and renders it as
// a single CSV cell: numbers via their float64 decimal representation
// (the precision-loss behavior the original implementation has; this is
// a deliberate Open-Question decision, not an oversight — see
// DESIGN.md), strings verbatim, anything absent or of another type as an
// empty cell.
func projectCell(rec *record.Record, path string) string {
	v, found := jsonptr.Resolve(rec.Raw, path)
	if !found {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

// tryShip flushes w's CSV writer, invokes the write callback, and on
// success reopens a fresh file with a new header; on failure it leaves
// the file intact and reschedules for retryInterval.
func (t *Translator) tryShip(mappingName string, w *writer) (int, bool) {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.nextWrite = time.Now().Add(t.retryInterval)
		return 0, false
	}

	count := w.count
	if t.writeCB(w.path, mappingName, count) {
		if err := t.reopen(w); err != nil {
			w.nextWrite = time.Now().Add(t.retryInterval)
			return 0, false
		}
		return count, true
	}
	w.nextWrite = time.Now().Add(t.retryInterval)
	return 0, false
}

// reopen truncates w's file back to just the header row and resets its
// counters, matching the translator's atomic flush/reopen invariant.
func (t *Translator) reopen(w *writer) error {
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, 0); err != nil {
		return err
	}
	w.csv = csv.NewWriter(w.file)
	if err := w.csv.Write(w.columns); err != nil {
		return err
	}
	w.csv.Flush()
	w.count = 0
	w.nextWrite = time.Now().Add(t.writeInterval)
	return nil
}

// Close flushes and closes every mapping's CSV file.
func (t *Translator) Close() error {
	var firstErr error
	for _, w := range t.outfiles {
		w.csv.Flush()
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
