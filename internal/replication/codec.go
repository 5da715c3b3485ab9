package replication

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// bin values are restricted to the particle kinds the wire codec
// recognizes: integer, string, blob, or null.
const (
	binKindNull byte = iota
	binKindInt
	binKindString
	binKindBlob
)

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, fmt.Errorf("replication: read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint64(r io.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, fmt.Errorf("replication: read uint64: %w", err)
	}
	return binary.BigEndian.Uint64(tmp[:]), nil
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r io.Reader) (bool, error) {
	var tmp [1]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return false, fmt.Errorf("replication: read bool: %w", err)
	}
	return tmp[0] != 0, nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", fmt.Errorf("replication: read string length: %w", err)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", fmt.Errorf("replication: read string body: %w", err)
	}
	return string(data), nil
}

func writeBinValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(binKindNull)
	case int64:
		buf.WriteByte(binKindInt)
		writeUint64(buf, uint64(val))
	case string:
		buf.WriteByte(binKindString)
		writeString(buf, val)
	case []byte:
		buf.WriteByte(binKindBlob)
		writeUint32(buf, uint32(len(val)))
		buf.Write(val)
	default:
		return fmt.Errorf("replication: unsupported bin value type %T", v)
	}
	return nil
}

func readBinValue(r io.Reader) (interface{}, error) {
	var kind [1]byte
	if _, err := io.ReadFull(r, kind[:]); err != nil {
		return nil, fmt.Errorf("replication: read bin kind: %w", err)
	}
	switch kind[0] {
	case binKindNull:
		return nil, nil
	case binKindInt:
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case binKindString:
		return readString(r)
	case binKindBlob:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("replication: read blob: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("replication: unknown bin kind %d", kind[0])
	}
}
