package batch

import (
	"testing"

	"kvnode/internal/wire"
)

func newTestEngine(t *testing.T, maxRequests int) *Engine {
	t.Helper()
	wp := NewWorkerPool(1, 8, nil)
	t.Cleanup(wp.Stop)
	return &Engine{
		pool:        newBufferPool(DefaultBufferCapacity),
		workers:     wp,
		enabled:     true,
		maxRequests: maxRequests,
	}
}

func noopRowHandler(namespace string, row Row, shared *SharedState) {}

func TestDispatchZeroDeclaredRowsRejectedAsParameter(t *testing.T) {
	e := newTestEngine(t, 100)
	handle := &fakeHandle{}

	if err := e.Dispatch("test", buildBatchField(0), handle, noopRowHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.sentCount() != 1 {
		t.Fatalf("expected exactly one trailer frame, got %d", handle.sentCount())
	}
	msg, err := wire.ParseDataMessage(handle.sent[0][wire.HeaderSize:])
	if err != nil {
		t.Fatalf("ParseDataMessage: %v", err)
	}
	if msg.ResultCode != wire.Parameter {
		t.Fatalf("result code = %v, want Parameter", msg.ResultCode)
	}
	if handle.ended != 1 {
		t.Fatalf("expected end-of-transaction, got %d", handle.ended)
	}
}

func TestDispatchDeclaredOverMaxRejected(t *testing.T) {
	e := newTestEngine(t, 2)
	handle := &fakeHandle{}

	if err := e.Dispatch("test", buildBatchField(3), handle, noopRowHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := wire.ParseDataMessage(handle.sent[0][wire.HeaderSize:])
	if err != nil {
		t.Fatalf("ParseDataMessage: %v", err)
	}
	if msg.ResultCode != wire.BatchMaxRequests {
		t.Fatalf("result code = %v, want BatchMaxRequests", msg.ResultCode)
	}
}
