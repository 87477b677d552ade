// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package gelf

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// Encode gzips data once, then slices the compressed output into
// chunkSize-sized payload pieces, each prefixed with a matching 12-byte
// chunk header (magic=MagicGzip, a random message id, ascending seq_num,
// and seq_max = ceil(len/chunkSize)). It is a test and fixture utility,
// not part of the ingest hot path: the inverse of Decoder.Decode, used to
// validate the round-trip law (gelf: Decode(Encode(bytes, k)) == bytes).
func Encode(data []byte, chunkSize int) ([][]byte, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("gelf: chunk size must be positive")
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("gelf: gzip write: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("gelf: gzip close: %w", err)
	}
	compressed := buf.Bytes()

	numChunks := len(compressed) / chunkSize
	if len(compressed)%chunkSize != 0 {
		numChunks++
	}
	if numChunks == 0 {
		numChunks = 1
	}
	if numChunks > 255 {
		return nil, fmt.Errorf("gelf: payload too large for %d-byte chunks (%d chunks, max 255)", chunkSize, numChunks)
	}

	id, err := randomMessageID()
	if err != nil {
		return nil, fmt.Errorf("gelf: generating message id: %w", err)
	}

	chunks := make([][]byte, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(compressed) {
			end = len(compressed)
		}
		piece := compressed[start:end]

		datagram := make([]byte, HeaderSize+len(piece))
		PutChunkHeader(datagram, ChunkHeader{
			Magic:     MagicGzip,
			MessageID: id,
			SeqNum:    uint8(i),
			SeqMax:    uint8(numChunks),
		})
		copy(datagram[HeaderSize:], piece)
		chunks = append(chunks, datagram)
	}
	return chunks, nil
}

// randomMessageID draws a random 64-bit id via crypto/rand. The original
// implementation used a fixed test id (123456789); a production encoder
// needs distinct ids per message so concurrent in-flight messages on the
// wire don't collide in the receiver's Chunk Table.
func randomMessageID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
