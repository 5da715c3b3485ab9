package reqhash

import (
	"testing"
	"time"

	"kvnode/internal/digest"
	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

type fakeHandle struct {
	ended  int
	forced bool
}

func (f *fakeHandle) Send(frame []byte) error { return nil }
func (f *fakeHandle) EndOfTransaction(forceClose bool) {
	f.ended++
	f.forced = forceClose
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	h := New(4)
	k := digest.Key{Namespace: "test", Digest: digest.Digest{1}}
	tr1 := txn.New(nil, txn.OriginClient, &fakeHandle{}, nil)
	tr2 := txn.New(nil, txn.OriginClient, &fakeHandle{}, nil)

	if res := h.Insert(k, tr1, time.Second); res != InProgress {
		t.Fatalf("expected IN_PROGRESS, got %v", res)
	}
	if res := h.Insert(k, tr2, time.Second); res != Waiting {
		t.Fatalf("expected WAITING on duplicate key, got %v", res)
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 in-flight entry, got %d", h.Len())
	}
}

func TestRemoveAllowsReinsert(t *testing.T) {
	h := New(4)
	k := digest.Key{Namespace: "test", Digest: digest.Digest{2}}
	tr := txn.New(nil, txn.OriginClient, &fakeHandle{}, nil)
	h.Insert(k, tr, time.Second)
	h.Remove(k)
	if h.Len() != 0 {
		t.Fatalf("expected 0 entries after remove, got %d", h.Len())
	}
	tr2 := txn.New(nil, txn.OriginClient, &fakeHandle{}, nil)
	if res := h.Insert(k, tr2, time.Second); res != InProgress {
		t.Fatalf("expected reinsert to succeed, got %v", res)
	}
}

func TestSweepTimeoutsFiresExactlyOnce(t *testing.T) {
	h := New(1)
	k := digest.Key{Namespace: "test", Digest: digest.Digest{3}}
	handle := &fakeHandle{}
	tr := txn.New(nil, txn.OriginClient, handle, nil)
	h.Insert(k, tr, -time.Second) // already expired

	fired := h.SweepTimeouts(time.Now())
	if fired != 1 {
		t.Fatalf("expected 1 timeout fired, got %d", fired)
	}
	if handle.ended != 1 || !handle.forced {
		t.Fatalf("expected forced end-of-transaction, got ended=%d forced=%v", handle.ended, handle.forced)
	}
	if h.Len() != 0 {
		t.Fatal("expected expired entry removed from hash")
	}

	// A second sweep must not find (and re-fire) the same entry.
	if fired2 := h.SweepTimeouts(time.Now()); fired2 != 0 {
		t.Fatalf("expected second sweep to find nothing, got %d", fired2)
	}
}

func TestTimeoutVsRespondRace(t *testing.T) {
	h := New(1)
	k := digest.Key{Namespace: "test", Digest: digest.Digest{4}}
	handle := &fakeHandle{}
	tr := txn.New(nil, txn.OriginClient, handle, nil)
	h.Insert(k, tr, -time.Second)

	done := make(chan struct{})
	go func() {
		_ = tr.Respond(wire.ComposeReply(wire.OK, 0, 0, nil))
		close(done)
	}()
	h.SweepTimeouts(time.Now())
	<-done

	if handle.ended != 1 {
		t.Fatalf("expected exactly one end-of-transaction across the race, got %d", handle.ended)
	}
}
