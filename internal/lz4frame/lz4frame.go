// Package lz4frame wraps the per-packet LZ4 compression described in
// spec.md §4.7: "LZ4 frame-per-packet when enabled; on decompression
// failure the packet is dropped with MalformedPacket." Treated as a
// black-box transform per spec.md §1, so this package is a thin
// byte-slice-in, byte-slice-out wrapper, not a general stream codec.
package lz4frame

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Compress returns the LZ4-framed encoding of p.
func Compress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, fmt.Errorf("lz4frame: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4frame: compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress. Any malformed frame is reported as an
// error; the caller maps it to the MalformedPacket per-packet failure.
func Decompress(p []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(p))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4frame: decompress: %w", err)
	}
	return out, nil
}
