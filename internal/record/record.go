// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package record defines the Decoded Record type shared by pointer across
// every sink a datagram is routed to. A Record is never mutated after
// construction.
package record

import "github.com/nishisan-dev/loutd/internal/jsonptr"

// Record wraps a parsed GELF JSON value. Once built it is treated as an
// immutable reference: the router and every sink worker hold the same
// *Record, never copying or mutating its Raw value.
type Record struct {
	// Raw is the decoded JSON value, usually a map[string]any.
	Raw any
}

// New wraps a decoded JSON value as a Record.
func New(raw any) *Record {
	return &Record{Raw: raw}
}

// Resolve evaluates an RFC 6901 JSON pointer against the record, returning
// the pointed-to value and whether the pointer resolved. A pointer that
// resolves to a JSON null still reports found=true, matching the filter
// semantics required by the router ("any type, including null").
func (r *Record) Resolve(pointer string) (value any, found bool) {
	return jsonptr.Resolve(r.Raw, pointer)
}
