package crud

import (
	"testing"

	"kvnode/internal/storage"
	"kvnode/internal/udf"
	"kvnode/internal/wire"
)

func openRecord(preExisted bool, bins map[string]interface{}) *storage.Record {
	if bins == nil {
		bins = map[string]interface{}{}
	}
	return &storage.Record{
		Bins:       bins,
		PreExisted: preExisted,
		Open:       true,
	}
}

func TestApplyWriteMarksOpenAndUpdated(t *testing.T) {
	rec := openRecord(false, nil)
	s := Script{Ops: []wire.Op{
		{Op: wire.OpWrite, ParticleType: wire.ParticleString, Name: "name", Value: []byte("alice")},
	}}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.HasUpdates || !res.Open || !res.Success {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rec.Bins["name"] != "alice" {
		t.Fatalf("bin not written: %+v", rec.Bins)
	}
}

func TestApplyDeleteClosesRecord(t *testing.T) {
	rec := openRecord(true, map[string]interface{}{"name": "alice"})
	s := Script{Ops: []wire.Op{{Op: wire.OpDelete}}}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.HasUpdates || res.Open {
		t.Fatalf("delete should report updates with the record closed: %+v", res)
	}
	op := udf.Classify(res.HasUpdates, res.Open, rec.PreExisted)
	if op != udf.OpDelete {
		t.Fatalf("Classify = %v, want OpDelete", op)
	}
}

func TestApplyReadOnExistingRecordDoesNotCloseIt(t *testing.T) {
	rec := openRecord(true, map[string]interface{}{"name": "alice"})
	s := Script{}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Success || !res.Open {
		t.Fatalf("read should succeed and leave the record open: %+v", res)
	}
	op := udf.Classify(res.HasUpdates, res.Open, rec.PreExisted)
	if op != udf.OpRead {
		t.Fatalf("Classify = %v, want OpRead (a bare read must never be classified as a delete)", op)
	}
	if len(res.Ops) != 1 || res.Ops[0].Name != "name" {
		t.Fatalf("unexpected reply ops: %+v", res.Ops)
	}
}

func TestApplyReadOnMissingRecordReturnsNotFound(t *testing.T) {
	rec := openRecord(false, nil)
	s := Script{}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Success || res.Code != wire.NotFound {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestApplyReadNamedBinMissingReturnsBinName(t *testing.T) {
	rec := openRecord(true, map[string]interface{}{"name": "alice"})
	s := Script{Ops: []wire.Op{{Op: wire.OpRead, Name: "missing"}}}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Success || res.Code != wire.BinName {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestApplyIncrAppendPrepend(t *testing.T) {
	rec := openRecord(true, map[string]interface{}{"count": int64(1), "greeting": "world"})
	s := Script{Ops: []wire.Op{
		{Op: wire.OpIncr, Name: "count", Value: []byte{0, 0, 0, 0, 0, 0, 0, 4}},
		{Op: wire.OpAppend, Name: "greeting", ParticleType: wire.ParticleString, Value: []byte("!")},
		{Op: wire.OpPrepend, Name: "greeting", ParticleType: wire.ParticleString, Value: []byte("hello ")},
	}}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.HasUpdates {
		t.Fatalf("expected updates")
	}
	if rec.Bins["count"] != int64(5) {
		t.Fatalf("count = %v, want 5", rec.Bins["count"])
	}
	if rec.Bins["greeting"] != "hello world!" {
		t.Fatalf("greeting = %v, want %q", rec.Bins["greeting"], "hello world!")
	}
}

func TestApplyUnknownOpReturnsParameter(t *testing.T) {
	rec := openRecord(true, nil)
	s := Script{Ops: []wire.Op{{Op: wire.OpCode(99)}}}

	res, err := s.Apply(rec, udf.Request{}, nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Success || res.Code != wire.Parameter {
		t.Fatalf("unexpected result: %+v", res)
	}
}
