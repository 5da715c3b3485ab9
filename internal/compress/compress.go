// Package compress implements the two codecs negotiated for the
// data-compressed frame type (§6): zstd, grounded in the teacher's RDB
// parser (internal/replica/rdb_parser.go, klauspost/compress/zstd blob
// decoding), and LZF, grounded in the teacher's string-value decompression
// (internal/replica/rdb_string.go, zhuyie/golzf), for legacy clients that
// still negotiate it.
package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	lzf "github.com/zhuyie/golzf"
)

// Algorithm identifies the codec used for a data-compressed frame body.
type Algorithm uint8

const (
	Zstd Algorithm = 1
	LZF  Algorithm = 2
)

// compressedHeaderSize is algorithm(1) | original_size(4, BE).
const compressedHeaderSize = 5

// Wrap prefixes the compressed payload with the algorithm id and original
// (uncompressed) size, so Unwrap does not need to guess a destination
// buffer size.
func Wrap(alg Algorithm, originalSize int, compressed []byte) []byte {
	out := make([]byte, compressedHeaderSize+len(compressed))
	out[0] = byte(alg)
	binary.BigEndian.PutUint32(out[1:5], uint32(originalSize))
	copy(out[compressedHeaderSize:], compressed)
	return out
}

// Compress compresses body with the requested algorithm and wraps it for
// transmission as a data-compressed frame.
func Compress(alg Algorithm, body []byte) ([]byte, error) {
	switch alg {
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("compress: new zstd writer: %w", err)
		}
		defer enc.Close()
		compressed := enc.EncodeAll(body, nil)
		return Wrap(Zstd, len(body), compressed), nil
	case LZF:
		// golzf has no bound helper; worst case LZF output is input+input/16+64.
		dst := make([]byte, len(body)+len(body)/16+64)
		n, err := lzf.Compress(body, dst)
		if err != nil {
			return nil, fmt.Errorf("compress: lzf compress: %w", err)
		}
		return Wrap(LZF, len(body), dst[:n]), nil
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", alg)
	}
}

// Decompress reads the algorithm header then inflates the payload back to
// its original size.
func Decompress(framed []byte) ([]byte, error) {
	if len(framed) < compressedHeaderSize {
		return nil, fmt.Errorf("compress: frame too short: %d bytes", len(framed))
	}
	alg := Algorithm(framed[0])
	originalSize := int(binary.BigEndian.Uint32(framed[1:5]))
	payload := framed[compressedHeaderSize:]

	switch alg {
	case Zstd:
		dec, err := zstd.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("compress: new zstd reader: %w", err)
		}
		defer dec.Close()
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd decode: %w", err)
		}
		if len(out) != originalSize {
			return nil, fmt.Errorf("compress: zstd decoded length mismatch: expected %d, got %d", originalSize, len(out))
		}
		return out, nil
	case LZF:
		dst := make([]byte, originalSize)
		n, err := lzf.Decompress(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("compress: lzf decompress: %w", err)
		}
		if n != originalSize {
			return nil, fmt.Errorf("compress: lzf decoded length mismatch: expected %d, got %d", originalSize, n)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", alg)
	}
}
