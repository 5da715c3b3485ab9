package reactor

import (
	"net"
	"sync"
	"testing"
	"time"

	"kvnode/internal/fdtable"
	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []wire.FrameType
	last  txn.ClientHandle
	done  chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{}, 8)}
}

func (d *recordingDispatcher) Dispatch(handle txn.ClientHandle, frameType wire.FrameType, body []byte) {
	d.mu.Lock()
	d.calls = append(d.calls, frameType)
	d.last = handle
	d.mu.Unlock()
	d.done <- struct{}{}
}

func (d *recordingDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func composeFrame(t *testing.T) []byte {
	t.Helper()
	body := make([]byte, 22)
	body[0] = 22
	return append(wire.ComposeHeader(wire.FrameData, uint64(len(body))), body...)
}

func TestReactorAcceptsAndDispatchesOneFrame(t *testing.T) {
	table := fdtable.NewTable(10, nil)
	dispatcher := newRecordingDispatcher()
	r := New(Config{
		WorkerCount:   2,
		ServiceListen: ListenerConfig{Addr: "127.0.0.1:0"},
	}, table, dispatcher, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	addr := r.listeners[0].Addr().String()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write(composeFrame(t)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}

	if dispatcher.callCount() != 1 {
		t.Fatalf("call count = %d, want 1", dispatcher.callCount())
	}

	dispatcher.mu.Lock()
	handle := dispatcher.last
	dispatcher.mu.Unlock()
	if handle == nil {
		t.Fatal("dispatched handle is nil")
	}

	// Ending the transaction should resume reads and let a second frame be
	// dispatched on the same connection.
	handle.EndOfTransaction(false)
	if _, err := conn.Write(composeFrame(t)); err != nil {
		t.Fatalf("Write second frame: %v", err)
	}
	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second dispatch")
	}
	if dispatcher.callCount() != 2 {
		t.Fatalf("call count = %d, want 2", dispatcher.callCount())
	}
}

func TestReactorRejectsConnectionsOverOpenCap(t *testing.T) {
	table := fdtable.NewTable(1, nil)
	dispatcher := newRecordingDispatcher()
	r := New(Config{
		WorkerCount:   1,
		ServiceListen: ListenerConfig{Addr: "127.0.0.1:0"},
	}, table, dispatcher, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	addr := r.listeners[0].Addr().String()

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial first: %v", err)
	}
	defer first.Close()

	// Give the accept loop a moment to register the first connection before
	// the second dial races it.
	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = second.Read(buf)
	if err == nil {
		t.Fatal("expected second connection to be closed by the server")
	}
}

func TestWorkerLoadDistributesRoundRobin(t *testing.T) {
	table := fdtable.NewTable(10, nil)
	dispatcher := newRecordingDispatcher()
	r := New(Config{
		WorkerCount:   2,
		ServiceListen: ListenerConfig{Addr: "127.0.0.1:0"},
	}, table, dispatcher, nil)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop()

	addr := r.listeners[0].Addr().String()
	var conns []net.Conn
	for i := 0; i < 4; i++ {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	time.Sleep(100 * time.Millisecond)
	total := r.WorkerLoad(0) + r.WorkerLoad(1)
	if total != 4 {
		t.Fatalf("total assigned = %d, want 4", total)
	}
}
