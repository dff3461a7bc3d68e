// Package blob prepares large payloads (source containers, program text,
// compiled artifacts) for storage: xz compression plus a BLAKE3 content digest.
package blob

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"
)

// MaxDecodedSize bounds decompression of stored payloads.
const MaxDecodedSize = 512 << 20

// ErrTooLarge is returned when a payload decompresses past MaxDecodedSize.
var ErrTooLarge = errors.New("blob exceeds maximum decoded size")

// Blob is a compressed payload and the digest of its original bytes.
type Blob struct {
	Digest     string
	Size       int64
	Compressed []byte
}

// Digest returns the hex BLAKE3-256 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Encode compresses data with xz and records its digest.
func Encode(data []byte) (*Blob, error) {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress blob: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish xz stream: %w", err)
	}

	return &Blob{
		Digest:     Digest(data),
		Size:       int64(len(data)),
		Compressed: buf.Bytes(),
	}, nil
}

// Decode decompresses an xz payload.
func Decode(compressed []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to create xz reader: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob: %w", err)
	}
	if len(data) > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Verify decompresses b and checks the result against its digest.
func (b *Blob) Verify() ([]byte, error) {
	data, err := Decode(b.Compressed)
	if err != nil {
		return nil, err
	}
	if got := Digest(data); got != b.Digest {
		return nil, fmt.Errorf("blob digest mismatch: want %s, got %s", b.Digest, got)
	}
	return data, nil
}
