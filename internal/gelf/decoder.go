// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gelf

import (
	"fmt"
	"io"

	"github.com/golang/snappy"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Decoded is the parsed JSON value produced by Decode. It is treated as
// an immutable reference shared across all destination sinks once
// returned; callers must not mutate the map in place.
type Decoded = any

// Decoder turns a completed Message (or a bare plaintext datagram) into
// a decoded JSON value, dispatching on the chunk magic for decompression.
type Decoder struct{}

// NewDecoder constructs a Decoder. It carries no state today but exists
// as a type so future buffering/pooling can be added without changing
// call sites.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode reads the decompressed byte stream behind r (gzip, snappy, or
// plain depending on magic) and parses it as JSON. A malformed stream
// yields an error; callers must count and log it but never treat it as
// fatal to the input loop.
func (d *Decoder) Decode(magic uint16, r io.Reader) (Decoded, error) {
	stream, err := d.decompress(magic, eofReader{r})
	if err != nil {
		return nil, fmt.Errorf("gelf: decompress: %w", err)
	}
	raw, err := io.ReadAll(stream)
	if err != nil {
		return nil, fmt.Errorf("gelf: read decompressed stream: %w", err)
	}
	var v any
	if err := jsonAPI.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("gelf: parse json: %w", err)
	}
	return v, nil
}

// eofReader turns an empty read with no error, which is how Message
// reports the end of its stream, into io.EOF so that io.ReadAll and the
// decompressors stop reading.
type eofReader struct{ r io.Reader }

func (e eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// decompress layers the appropriate decompressor over r according to the
// chunk magic. An unrecognized magic is treated as already-plain bytes.
func (d *Decoder) decompress(magic uint16, r io.Reader) (io.Reader, error) {
	switch magic {
	case MagicGzip:
		return gzip.NewReader(r)
	case MagicSnappy:
		return snappy.NewReader(r), nil
	case MagicPlain:
		return r, nil
	default:
		return r, nil
	}
}

// DecodeDatagram is the convenience entry point used by the input loop:
// given a raw received UDP datagram and the outcome of feeding it through
// a Table, decode it end to end. If headerOK is false (the datagram is
// not a chunked GELF message), the whole datagram is parsed as a plain
// JSON blob per the wire format's "any other magic" rule; otherwise msg
// is decoded according to hdr.Magic.
func (d *Decoder) DecodeDatagram(datagram []byte, hdr ChunkHeader, headerOK bool, msg *Message) (Decoded, error) {
	if !headerOK {
		var v any
		if err := jsonAPI.Unmarshal(datagram, &v); err != nil {
			return nil, fmt.Errorf("gelf: parse plain datagram: %w", err)
		}
		return v, nil
	}
	return d.Decode(hdr.Magic, msg)
}
