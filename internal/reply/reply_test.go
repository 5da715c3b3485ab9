package reply

import (
	"bytes"
	"testing"

	"kvnode/internal/wire"
)

func TestBinToOpInt64(t *testing.T) {
	op, err := BinToOp("age", int64(42))
	if err != nil {
		t.Fatal(err)
	}
	if op.ParticleType != wire.ParticleInteger {
		t.Fatalf("expected integer particle, got %v", op.ParticleType)
	}
	if DecodeInt64(op.Value) != 42 {
		t.Fatalf("round trip failed: %v", op.Value)
	}
}

func TestBinToOpString(t *testing.T) {
	op, err := BinToOp("name", "hello")
	if err != nil {
		t.Fatal(err)
	}
	if op.ParticleType != wire.ParticleString || string(op.Value) != "hello" {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestBinToOpBlob(t *testing.T) {
	op, err := BinToOp("raw", []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if op.ParticleType != wire.ParticleBlob || !bytes.Equal(op.Value, []byte{1, 2, 3}) {
		t.Fatalf("unexpected op: %+v", op)
	}
}

func TestBinToOpNull(t *testing.T) {
	op, err := BinToOp("empty", nil)
	if err != nil {
		t.Fatal(err)
	}
	if op.ParticleType != wire.ParticleNull {
		t.Fatalf("expected null particle, got %v", op.ParticleType)
	}
}

func TestBinToOpUnsupportedType(t *testing.T) {
	if _, err := BinToOp("bad", 3.14); err == nil {
		t.Fatal("expected error for unsupported bin value type")
	}
}

func TestBinsToOpsDeterministicOrder(t *testing.T) {
	bins := map[string]interface{}{"z": int64(1), "a": int64(2), "m": int64(3)}
	ops, err := BinsToOps(bins)
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 3 || ops[0].Name != "a" || ops[1].Name != "m" || ops[2].Name != "z" {
		t.Fatalf("expected name-sorted ops, got %+v", ops)
	}
}

func TestFrameParsesBackWithBinsAndTrid(t *testing.T) {
	bins := map[string]interface{}{"x": int64(7)}
	frame, err := Frame(wire.OK, 3, 100, bins, nil, []byte{0xAB, 0xCD})
	if err != nil {
		t.Fatal(err)
	}

	hdr, err := wire.ParseHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	body := frame[wire.HeaderSize : wire.HeaderSize+int(hdr.Size)]
	m, err := wire.ParseDataMessage(body)
	if err != nil {
		t.Fatal(err)
	}
	if m.ResultCode != wire.OK || m.Generation != 3 || m.RecordTTL != 100 {
		t.Fatalf("unexpected parsed header: %+v", m)
	}
	if len(m.Ops) != 1 || m.Ops[0].Name != "x" {
		t.Fatalf("expected one echoed bin op, got %+v", m.Ops)
	}
	if len(m.Fields) != 1 || m.Fields[0].Type != wire.FieldTransactionID || !bytes.Equal(m.Fields[0].Value, []byte{0xAB, 0xCD}) {
		t.Fatalf("expected echoed transaction-id field, got %+v", m.Fields)
	}
}

func TestFrameWithoutTridOmitsField(t *testing.T) {
	frame, err := Frame(wire.OK, 1, 1, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := wire.ParseHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	body := frame[wire.HeaderSize : wire.HeaderSize+int(hdr.Size)]
	m, err := wire.ParseDataMessage(body)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Fields) != 0 {
		t.Fatalf("expected no fields, got %+v", m.Fields)
	}
}

func TestErrorFrameCarriesOnlyResultCode(t *testing.T) {
	frame := Error(wire.NotFound)
	hdr, err := wire.ParseHeader(frame)
	if err != nil {
		t.Fatal(err)
	}
	body := frame[wire.HeaderSize : wire.HeaderSize+int(hdr.Size)]
	m, err := wire.ParseDataMessage(body)
	if err != nil {
		t.Fatal(err)
	}
	if m.ResultCode != wire.NotFound || len(m.Fields) != 0 || len(m.Ops) != 0 {
		t.Fatalf("unexpected error frame contents: %+v", m)
	}
}
