// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package jsonptr implements RFC 6901 JSON pointer resolution over the
// generic any-trees produced by decoding GELF records, for the two
// places this daemon needs it: the router's if_has_field filter and the
// translator's field projection.
package jsonptr

import (
	"strconv"
	"strings"
)

// Resolve evaluates pointer against document (typically the any produced
// by decoding a GELF record). found reports whether the pointer resolved
// to anything at all, including an explicit JSON null; it is false only
// when a referenced object key or array index does not exist.
func Resolve(document any, pointer string) (value any, found bool) {
	if pointer == "" || pointer == "/" {
		return document, true
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, false
	}

	node := document
	for _, tok := range strings.Split(pointer[1:], "/") {
		tok = unescape(tok)
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[tok]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			idx, err := strconv.Atoi(tok)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	return node, true
}

// unescape reverses the RFC 6901 "~1" -> "/" and "~0" -> "~" token
// encoding. Order matters: "~1" is decoded before "~0", since decoding
// "~0" first would turn "~01" into "~1" and then wrongly into "/".
func unescape(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}
