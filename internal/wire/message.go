package wire

import (
	"encoding/binary"
	"fmt"
)

// FieldType enumerates the recognized data-message field types (§3, §6).
type FieldType uint8

const (
	FieldNamespace       FieldType = 0
	FieldSet             FieldType = 1
	FieldKey             FieldType = 2
	FieldDigest          FieldType = 4
	FieldDigestArray     FieldType = 5
	FieldTransactionID   FieldType = 7
	FieldScanOptions     FieldType = 8
	FieldIndexName       FieldType = 21
	FieldIndexRange      FieldType = 22
	FieldIndexType       FieldType = 26
	FieldUDFFilename     FieldType = 30
	FieldUDFFunction     FieldType = 31
	FieldUDFArgList      FieldType = 32
	FieldUDFOp           FieldType = 33
	FieldQueryBinList    FieldType = 40
	FieldBatch           FieldType = 41
	FieldBatchWithSet    FieldType = 42
)

// OpCode enumerates recognized per-op operation codes.
type OpCode uint8

const (
	OpRead    OpCode = 1
	OpWrite   OpCode = 2
	OpIncr    OpCode = 5
	OpAppend  OpCode = 9
	OpPrepend OpCode = 10
	OpTouch   OpCode = 11
	OpDelete  OpCode = 14
)

// ParticleType enumerates the wire encoding of an op's value.
type ParticleType uint8

const (
	ParticleNull    ParticleType = 0
	ParticleInteger ParticleType = 1
	ParticleString  ParticleType = 3
	ParticleBlob    ParticleType = 4
)

// Field is a single parsed TLV field; Value references into the owning
// frame buffer rather than copying.
type Field struct {
	Type  FieldType
	Value []byte
}

// Op is a single parsed TLV operation.
type Op struct {
	Op           OpCode
	ParticleType ParticleType
	Version      uint8
	Name         string
	Value        []byte
}

// PresenceMask records which field types were seen, avoiding a second pass
// over Fields to answer "was X present".
type PresenceMask uint64

func (m PresenceMask) Has(t FieldType) bool {
	if t >= 64 {
		return false
	}
	return m&(1<<uint(t)) != 0
}

func (m PresenceMask) set(t FieldType) PresenceMask {
	if t >= 64 {
		return m
	}
	return m | (1 << uint(t))
}

// DataMessage is a fully parsed data-message body (§3, §6).
type DataMessage struct {
	Info1, Info2, Info3 uint8
	ResultCode          ResultCode
	Generation          uint32
	RecordTTL           uint32
	TransactionTTL       uint32 // overloaded to carry BatchIndex in batch sub-replies, §9
	Fields              []Field
	Ops                 []Op
	Presence            PresenceMask
}

// Info3 bits.
const (
	Info3LAST uint8 = 1 << 0
)

// BatchIndex reads the overloaded TransactionTTL field as a batch row index.
func (m DataMessage) BatchIndex() uint32 { return m.TransactionTTL }

// WithBatchIndex returns a copy with TransactionTTL set to idx.
func (m DataMessage) WithBatchIndex(idx uint32) DataMessage {
	m.TransactionTTL = idx
	return m
}

const dataHeaderSize = 22

// ParseDataMessage walks the sub-header then n_fields TLV fields and n_ops
// TLV ops, bounds-checked against the end of payload. Field/op payloads are
// referenced, not copied. Trailing bytes after fields+ops are tolerated
// (legacy client compatibility, §4.2).
func ParseDataMessage(payload []byte) (DataMessage, error) {
	if len(payload) < dataHeaderSize {
		return DataMessage{}, fmt.Errorf("wire: data message too short: %d bytes", len(payload))
	}
	headerSz := int(payload[0])
	if headerSz < dataHeaderSize {
		return DataMessage{}, fmt.Errorf("wire: declared header_sz %d smaller than minimum %d", headerSz, dataHeaderSize)
	}
	if headerSz > len(payload) {
		return DataMessage{}, fmt.Errorf("wire: declared header_sz %d exceeds payload length %d", headerSz, len(payload))
	}

	m := DataMessage{
		Info1:          payload[1],
		Info2:          payload[2],
		Info3:          payload[3],
		ResultCode:     ResultCode(payload[5]),
		Generation:     binary.BigEndian.Uint32(payload[6:10]),
		RecordTTL:      binary.BigEndian.Uint32(payload[10:14]),
		TransactionTTL: binary.BigEndian.Uint32(payload[14:18]),
	}
	nFields := int(binary.BigEndian.Uint16(payload[18:20]))
	nOps := int(binary.BigEndian.Uint16(payload[20:22]))

	fields, consumed, err := ParseFields(payload[headerSz:], nFields)
	if err != nil {
		return DataMessage{}, err
	}
	for _, f := range fields {
		m.Fields = append(m.Fields, f)
		m.Presence = m.Presence.set(f.Type)
	}

	ops, _, err := ParseOps(payload[headerSz+consumed:], nOps)
	if err != nil {
		return DataMessage{}, err
	}
	m.Ops = ops

	return m, nil
}

// ParseFields walks n TLV fields from the front of buf, returning the parsed
// fields and the number of bytes consumed. Values reference buf, not copied.
// Shared by ParseDataMessage and the batch row decoder (§4.7), both of which
// walk the identical field encoding.
func ParseFields(buf []byte, n int) ([]Field, int, error) {
	fields := make([]Field, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		if off+4 > len(buf) {
			return nil, 0, fmt.Errorf("wire: field %d header overruns payload", i)
		}
		size := int(binary.BigEndian.Uint32(buf[off : off+4]))
		if size < 1 {
			return nil, 0, fmt.Errorf("wire: field %d declares size %d < 1", i, size)
		}
		if off+4+size > len(buf) {
			return nil, 0, fmt.Errorf("wire: field %d value (size=%d) overruns payload", i, size)
		}
		ftype := FieldType(buf[off+4])
		value := buf[off+5 : off+4+size]
		fields = append(fields, Field{Type: ftype, Value: value})
		off += 4 + size
	}
	return fields, off, nil
}

// ParseOps walks n TLV ops from the front of buf, returning the parsed ops
// and the number of bytes consumed.
func ParseOps(buf []byte, n int) ([]Op, int, error) {
	ops := make([]Op, 0, n)
	off := 0
	for i := 0; i < n; i++ {
		if off+4 > len(buf) {
			return nil, 0, fmt.Errorf("wire: op %d header overruns payload", i)
		}
		opSz := int(binary.BigEndian.Uint32(buf[off : off+4]))
		if opSz < 4 {
			return nil, 0, fmt.Errorf("wire: op %d declares op_sz %d < 4", i, opSz)
		}
		if off+4+opSz > len(buf) {
			return nil, 0, fmt.Errorf("wire: op %d (op_sz=%d) overruns payload", i, opSz)
		}
		opByte := OpCode(buf[off+4])
		particle := ParticleType(buf[off+5])
		version := buf[off+6]
		nameSz := int(buf[off+7])
		nameStart := off + 8
		nameEnd := nameStart + nameSz
		if nameEnd > off+4+opSz {
			return nil, 0, fmt.Errorf("wire: op %d name_sz %d overruns op body", i, nameSz)
		}
		valueLen := opSz - 4 - nameSz
		if valueLen < 0 {
			return nil, 0, fmt.Errorf("wire: op %d value length negative (op_sz=%d name_sz=%d)", i, opSz, nameSz)
		}
		valueStart := nameEnd
		valueEnd := valueStart + valueLen
		if valueEnd > off+4+opSz {
			return nil, 0, fmt.Errorf("wire: op %d value overruns op body", i)
		}
		ops = append(ops, Op{
			Op:           opByte,
			ParticleType: particle,
			Version:      version,
			Name:         string(buf[nameStart:nameEnd]),
			Value:        buf[valueStart:valueEnd],
		})
		off += 4 + opSz
	}
	return ops, off, nil
}

// ComposeDataMessage serializes a DataMessage into a data-message body,
// inverse of ParseDataMessage for the subset of fields this codec composes
// (replies do not round-trip Fields; see ComposeReply).
func ComposeDataMessage(m DataMessage) []byte {
	body := make([]byte, dataHeaderSize)
	body[0] = dataHeaderSize
	body[1] = m.Info1
	body[2] = m.Info2
	body[3] = m.Info3
	body[5] = byte(m.ResultCode)
	binary.BigEndian.PutUint32(body[6:10], m.Generation)
	binary.BigEndian.PutUint32(body[10:14], m.RecordTTL)
	binary.BigEndian.PutUint32(body[14:18], m.TransactionTTL)
	binary.BigEndian.PutUint16(body[18:20], uint16(len(m.Fields)))
	binary.BigEndian.PutUint16(body[20:22], uint16(len(m.Ops)))

	for _, f := range m.Fields {
		size := 1 + len(f.Value)
		hdr := make([]byte, 5)
		binary.BigEndian.PutUint32(hdr[0:4], uint32(size))
		hdr[4] = byte(f.Type)
		body = append(body, hdr...)
		body = append(body, f.Value...)
	}
	for _, op := range m.Ops {
		nameBytes := []byte(op.Name)
		opSz := 4 + len(nameBytes) + len(op.Value)
		hdr := make([]byte, 8)
		binary.BigEndian.PutUint32(hdr[0:4], uint32(opSz))
		hdr[4] = byte(op.Op)
		hdr[5] = byte(op.ParticleType)
		hdr[6] = op.Version
		hdr[7] = byte(len(nameBytes))
		body = append(body, hdr...)
		body = append(body, nameBytes...)
		body = append(body, op.Value...)
	}
	return body
}

// ComposeReply builds a single data-message reply frame carrying the given
// result code, record metadata, and op set (§4.2 make_reply).
func ComposeReply(code ResultCode, generation, voidTime uint32, ops []Op) []byte {
	m := DataMessage{
		ResultCode: code,
		Generation: generation,
		RecordTTL:  voidTime,
		Ops:        ops,
	}
	body := ComposeDataMessage(m)
	header := ComposeHeader(FrameData, uint64(len(body)))
	return append(header, body...)
}

// ComposeBatchRowReply builds a single sub-reply for one row of a batch
// response (§4.7, §9), carrying the row's index in the overloaded
// TransactionTTL field.
func ComposeBatchRowReply(code ResultCode, generation, voidTime uint32, ops []Op, rowIndex uint32) []byte {
	m := DataMessage{
		ResultCode: code,
		Generation: generation,
		RecordTTL:  voidTime,
		Ops:        ops,
	}.WithBatchIndex(rowIndex)
	body := ComposeDataMessage(m)
	header := ComposeHeader(FrameData, uint64(len(body)))
	return append(header, body...)
}

// ComposeBatchTrailer builds the LAST trailer frame for a batch response
// (§4.7, §6): no fields, no ops, info3's LAST bit set, carrying the
// batch-wide result code.
func ComposeBatchTrailer(code ResultCode) []byte {
	m := DataMessage{
		Info3:      Info3LAST,
		ResultCode: code,
	}
	body := ComposeDataMessage(m)
	header := ComposeHeader(FrameData, uint64(len(body)))
	return append(header, body...)
}
