package udf

import (
	"sync"
	"testing"
	"time"

	"kvnode/internal/digest"
	"kvnode/internal/peers"
	"kvnode/internal/reqhash"
	"kvnode/internal/replication"
	"kvnode/internal/storage"
	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

type fakeHandle struct {
	mu     sync.Mutex
	frames [][]byte
	ended  int
}

func (f *fakeHandle) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}
func (f *fakeHandle) EndOfTransaction(bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
}
func (f *fakeHandle) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// scriptFunc adapts a plain function to Script.
type scriptFunc func(rec *storage.Record, req Request, tracker *TimeTracker) (ScriptResult, error)

func (s scriptFunc) Apply(rec *storage.Record, req Request, tracker *TimeTracker) (ScriptResult, error) {
	return s(rec, req, tracker)
}

type syncReplWriter struct{ called int }

func (s *syncReplWriter) Write(peers []string, pickle replication.Pickle, onAck func(err error)) {
	s.called++
	onAck(nil)
}

func newJob(t *testing.T, script Script, ns string, repl ReplicaWriter) (*Job, *fakeHandle, *storage.Facade) {
	t.Helper()
	fac := storage.NewFacade(nil, nil)
	fac.ConfigureNamespace(ns, 16)
	h := &fakeHandle{}
	key := digest.Key{Namespace: ns, Digest: digest.Digest{9}}
	tr := txn.New(nil, txn.OriginClient, h, nil)
	tr.Namespace = ns
	tr.Keyd = key.Digest

	cfg := Config{
		Storage:   fac,
		Hash:      reqhash.New(1),
		ReplWrite: repl,
	}
	job := NewJob(cfg, tr, Request{Function: "noop"}, script, time.Second)
	return job, h, fac
}

func TestMasterApplyWriteCommitsAndResponds(t *testing.T) {
	job, h, fac := newJob(t, scriptFunc(func(rec *storage.Record, req Request, tr *TimeTracker) (ScriptResult, error) {
		return ScriptResult{HasUpdates: true, Open: true, Success: true, Bins: map[string]interface{}{"x": int64(1)}}, nil
	}), "test", nil)
	job.Start()

	if h.frameCount() != 1 {
		t.Fatalf("expected exactly one response frame, got %d", h.frameCount())
	}
	if h.ended != 1 {
		t.Fatalf("expected end-of-transaction, got %d", h.ended)
	}
	rec, ok := fac.Get(&storage.Reservation{Namespace: "test", PartitionID: digest.PartitionID(digest.Digest{9}, 16)}, digest.Digest{9})
	if !ok {
		t.Fatal("expected record to be committed")
	}
	if rec.Bins["x"] != int64(1) {
		t.Fatalf("unexpected bin value: %v", rec.Bins["x"])
	}
}

func TestMasterApplyDeleteRemovesRecord(t *testing.T) {
	job, h, fac := newJob(t, scriptFunc(func(rec *storage.Record, req Request, tr *TimeTracker) (ScriptResult, error) {
		return ScriptResult{HasUpdates: true, Open: false, Success: true}, nil
	}), "test", nil)
	// Seed a pre-existing record so PreExisted reflects reality.
	rsv, _ := fac.Reserve(digest.Key{Namespace: "test", Digest: digest.Digest{9}})
	rec, _ := fac.OpenRecord(rsv, digest.Digest{9})
	rec.Bins["y"] = int64(5)
	_ = fac.CommitWrite(rsv, rec)

	job.Start()

	if h.frameCount() != 1 {
		t.Fatalf("expected exactly one response frame, got %d", h.frameCount())
	}
	if _, ok := fac.Get(rsv, digest.Digest{9}); ok {
		t.Fatal("expected record removed after delete classification")
	}
}

func TestMasterApplyWriteZeroBinsPromotesToDelete(t *testing.T) {
	job, _, fac := newJob(t, scriptFunc(func(rec *storage.Record, req Request, tr *TimeTracker) (ScriptResult, error) {
		return ScriptResult{HasUpdates: true, Open: true, Success: true, Bins: map[string]interface{}{}}, nil
	}), "test", nil)
	rsv, _ := fac.Reserve(digest.Key{Namespace: "test", Digest: digest.Digest{9}})
	rec, _ := fac.OpenRecord(rsv, digest.Digest{9})
	rec.Bins["y"] = int64(1)
	_ = fac.CommitWrite(rsv, rec)

	job.Start()

	if _, ok := fac.Get(rsv, digest.Digest{9}); ok {
		t.Fatal("expected zero-bin write promoted to delete")
	}
}

func TestScriptFailureRespondsUDFExecutionError(t *testing.T) {
	job, h, _ := newJob(t, scriptFunc(func(rec *storage.Record, req Request, tr *TimeTracker) (ScriptResult, error) {
		return ScriptResult{Success: false}, nil
	}), "test", nil)
	job.Start()

	if h.frameCount() != 1 {
		t.Fatalf("expected one error frame, got %d", h.frameCount())
	}
	msg, err := wire.ParseDataMessage(h.frames[0][wire.HeaderSize:])
	if err != nil || msg.ResultCode != wire.UDFExecution {
		t.Fatalf("expected UDF_EXECUTION reply, got %v (err %v)", msg.ResultCode, err)
	}
}

func TestRespondOnMasterCompleteDoesNotDoubleRespond(t *testing.T) {
	repl := &syncReplWriter{}
	peerSet := peers.New([]string{"self", "peer-1"})
	fac := storage.NewFacade(nil, peerSet)
	fac.ConfigureNamespace("test", 16)
	h := &fakeHandle{}
	tr := txn.New(nil, txn.OriginClient, h, nil)
	tr.Namespace = "test"
	tr.Keyd = digest.Digest{9}
	tr.Flags |= txn.FlagRespondOnMasterComplete

	cfg := Config{Storage: fac, Hash: reqhash.New(1), ReplWrite: repl}
	job := NewJob(cfg, tr, Request{Function: "noop"}, scriptFunc(func(rec *storage.Record, req Request, tt *TimeTracker) (ScriptResult, error) {
		return ScriptResult{HasUpdates: true, Open: true, Success: true, Bins: map[string]interface{}{"x": int64(1)}}, nil
	}), time.Second)

	job.Start()

	if h.frameCount() != 1 {
		t.Fatalf("expected exactly one client response despite respond-on-master-complete racing repl-write completion, got %d", h.frameCount())
	}
	if repl.called != 1 {
		t.Fatalf("expected replica write to run once, got %d", repl.called)
	}
}

func TestResultCodeString(t *testing.T) {
	if wire.UDFExecution.String() != "UDF_EXECUTION" {
		t.Fatal("sanity check on result code string failed")
	}
}
