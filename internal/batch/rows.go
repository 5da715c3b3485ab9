package batch

import (
	"encoding/binary"
	"fmt"

	"kvnode/internal/digest"
	"kvnode/internal/wire"
)

// Row is one parsed batch sub-request (§4.7). A repeat row shares its
// Fields/Ops with the preceding full row by slice reference — no per-row
// copy, matching the zero-copy property the wire codec already gives
// field/op payloads.
type Row struct {
	Index  uint32
	Digest digest.Digest
	Repeat bool
	Info1  uint8
	Fields []wire.Field
	Ops    []wire.Op
}

const rowFixedHeaderSize = 4 + digest.Size + 1 // index + digest + repeat flag

// ParseRows decodes a batch field's value (§3 field types Batch /
// BatchWithSet): a row count followed by that many full or repeat row
// records. A full row carries its own info1/fields/ops; a repeat row carries
// only an index and digest and inherits the previous row's fields/ops/info1.
func ParseRows(value []byte) ([]Row, error) {
	if len(value) < 4 {
		return nil, fmt.Errorf("batch: field value too short for row count: %d bytes", len(value))
	}
	n := int(binary.BigEndian.Uint32(value[0:4]))
	off := 4
	rows := make([]Row, 0, n)

	for i := 0; i < n; i++ {
		if off+rowFixedHeaderSize > len(value) {
			return rows, fmt.Errorf("batch: row %d header overruns batch body", i)
		}
		idx := binary.BigEndian.Uint32(value[off : off+4])
		off += 4
		var d digest.Digest
		copy(d[:], value[off:off+digest.Size])
		off += digest.Size
		repeat := value[off] != 0
		off++

		if repeat {
			if len(rows) == 0 {
				return rows, fmt.Errorf("batch: row %d is a repeat row with no preceding full row", i)
			}
			prev := rows[len(rows)-1]
			rows = append(rows, Row{
				Index:  idx,
				Digest: d,
				Repeat: true,
				Info1:  prev.Info1,
				Fields: prev.Fields,
				Ops:    prev.Ops,
			})
			continue
		}

		if off+5 > len(value) {
			return rows, fmt.Errorf("batch: row %d full-row header overruns batch body", i)
		}
		info1 := value[off]
		off++
		nFields := int(binary.BigEndian.Uint16(value[off : off+2]))
		off += 2
		nOps := int(binary.BigEndian.Uint16(value[off : off+2]))
		off += 2

		fields, consumed, err := wire.ParseFields(value[off:], nFields)
		if err != nil {
			return rows, fmt.Errorf("batch: row %d: %w", i, err)
		}
		off += consumed

		ops, consumed, err := wire.ParseOps(value[off:], nOps)
		if err != nil {
			return rows, fmt.Errorf("batch: row %d: %w", i, err)
		}
		off += consumed

		rows = append(rows, Row{
			Index:  idx,
			Digest: d,
			Info1:  info1,
			Fields: fields,
			Ops:    ops,
		})
	}

	return rows, nil
}

// DeclaredCount reads the row count out of a batch field value without
// parsing the rows, used to validate against BatchMaxRequests (§7) before
// doing any per-row work.
func DeclaredCount(value []byte) (int, error) {
	if len(value) < 4 {
		return 0, fmt.Errorf("batch: field value too short for row count: %d bytes", len(value))
	}
	return int(binary.BigEndian.Uint32(value[0:4])), nil
}
