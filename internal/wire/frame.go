// Package wire implements the length-prefixed binary frame protocol and the
// data-message codec described in §4.2 and §6: frame header parse/compose,
// TLV field/op walking with bounds checking, and reply composition. The
// byte-swapping and bounds-checked TLV walk follow the shape of the
// teacher's own wire reader in internal/redisx/client.go (RESP parsing over
// a buffered reader, explicit bounds checks, no reflection).
package wire

import (
	"encoding/binary"
	"fmt"
)

// Version is the only recognized non-zero frame version.
const Version = 2

// FrameType identifies the body encoding of a frame.
type FrameType uint8

const (
	FrameInfo           FrameType = 1
	FrameSecurity       FrameType = 2
	FrameData           FrameType = 3
	FrameDataCompressed FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameInfo:
		return "info"
	case FrameSecurity:
		return "security"
	case FrameData:
		return "data"
	case FrameDataCompressed:
		return "data-compressed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// HeaderSize is the fixed on-wire size of a frame header.
const HeaderSize = 8

// MaxBodySize bounds the accepted body size (PROTO_SIZE_MAX), 10 MiB.
const MaxBodySize = 10 * 1024 * 1024

// Header is a parsed frame header.
type Header struct {
	Version FrameType
	Type    FrameType
	Size    uint64
}

// ErrIncomplete signals that fewer than HeaderSize bytes are available; the
// caller should wait for more data rather than treating this as invalid.
var ErrIncomplete = fmt.Errorf("wire: incomplete header")

// ParseHeader reads an 8-byte frame header: version(1) | type(1) | size(6,BE).
// Returns ErrIncomplete if fewer than HeaderSize bytes are supplied.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrIncomplete
	}
	version := FrameType(buf[0])
	typ := FrameType(buf[1])

	if version != Version && !(version == 0 && typ == FrameSecurity) {
		return Header{}, fmt.Errorf("wire: unsupported version %d", version)
	}

	var sizeBuf [8]byte
	copy(sizeBuf[2:], buf[2:8])
	size := binary.BigEndian.Uint64(sizeBuf[:])

	if size == 0 {
		return Header{}, fmt.Errorf("wire: frame size 0 is too small")
	}
	if size > MaxBodySize {
		return Header{}, fmt.Errorf("wire: frame size %d exceeds max %d", size, MaxBodySize)
	}

	return Header{Version: version, Type: typ, Size: size}, nil
}

// ComposeHeader writes an 8-byte frame header for the given type and body
// size.
func ComposeHeader(typ FrameType, size uint64) []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(Version)
	buf[1] = byte(typ)
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], size)
	copy(buf[2:8], sizeBuf[2:])
	return buf
}
