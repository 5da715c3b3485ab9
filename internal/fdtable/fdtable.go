// Package fdtable implements the reference-counted connection-handle
// registry (§4.4): acquiring a reference is atomic, the last release closes
// the socket, and a reaper closes handles idle past a threshold. The
// close-exactly-once compare-and-swap follows the teacher's own
// close-once pattern in internal/redisx/client.go (an atomic CAS guarding
// net.Conn.Close against double-close from concurrent readers/writers),
// generalized from a single owner to an arbitrary reference count.
package fdtable

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"kvnode/internal/logging"
)

// Handle is a ref-counted connection. The table holds the initial
// reference; every pipeline stage that needs the connection to outlive its
// own scope acquires an additional one.
type Handle struct {
	ID   uint64
	conn net.Conn

	refs      atomic.Int32
	closed    atomic.Bool
	doNotReap atomic.Bool
	lastUsed  atomic.Int64 // unix nanos

	partial []byte // partial frame buffer, freed on close

	log   *logging.Facility
	table *Table
}

// Acquire takes an additional reference. It returns false if the handle is
// already past its last release (refs at or below 0) — acquiring from a
// fully-released handle is not possible, not a race to be retried.
func (h *Handle) Acquire() bool {
	for {
		cur := h.refs.Load()
		if cur <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release drops a reference. The reference reaching zero is the only path
// to Close; releasing past zero is a critical failure (§8 idempotence:
// "releasing a buffer pool entry twice is a critical failure" — the same
// discipline applies to handle references).
func (h *Handle) Release() {
	n := h.refs.Add(-1)
	switch {
	case n == 0:
		h.closeNow()
	case n < 0:
		msg := fmt.Sprintf("fdtable: handle %d released past zero references", h.ID)
		if h.log != nil {
			h.log.CriticalNoStack(logging.CtxFDTable, msg)
			return
		}
		panic(msg)
	}
}

func (h *Handle) closeNow() {
	if !h.closed.CompareAndSwap(false, true) {
		msg := fmt.Sprintf("fdtable: handle %d closed twice", h.ID)
		if h.log != nil {
			h.log.CriticalNoStack(logging.CtxFDTable, msg)
			return
		}
		panic(msg)
	}
	_ = h.conn.Close()
	h.partial = nil
	if h.table != nil {
		h.table.free(h)
	}
}

// Send writes a reply frame to the connection.
func (h *Handle) Send(frame []byte) error {
	h.touch()
	_, err := h.conn.Write(frame)
	return err
}

// EndOfTransaction is the single operation invoked by every origin after
// emitting its response (§4.4): it resumes reads (by virtue of returning
// control to the reactor's per-connection loop — tracked by the reactor,
// not here) and releases this transaction's reference. forceClose shuts
// the socket first so the peer observes EOF immediately, used by
// client-originating timeouts (§5).
func (h *Handle) EndOfTransaction(forceClose bool) {
	if forceClose {
		if tc, ok := h.conn.(interface{ CloseWrite() error }); ok {
			_ = tc.CloseWrite()
		}
	}
	h.Release()
}

func (h *Handle) touch() {
	h.lastUsed.Store(time.Now().UnixNano())
}

// SetDoNotReap marks the handle as exempt from idle reaping, e.g. while it
// is mid-transaction.
func (h *Handle) SetDoNotReap(v bool) { h.doNotReap.Store(v) }

func (h *Handle) idleFor() time.Duration {
	last := h.lastUsed.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

// Table is the process-wide slot table of open handles (§4.4).
type Table struct {
	mu      sync.Mutex
	handles map[uint64]*Handle
	nextID  uint64
	maxOpen int
	log     *logging.Facility

	stopReaper chan struct{}
	reaperOnce sync.Once
}

// NewTable constructs a table capped at maxOpen concurrently open handles.
func NewTable(maxOpen int, log *logging.Facility) *Table {
	return &Table{
		handles:    make(map[uint64]*Handle),
		maxOpen:    maxOpen,
		log:        log,
		stopReaper: make(chan struct{}),
	}
}

// Register adopts a new connection into the table with one reference held
// by the table itself. Returns an error (and closes conn) if the table is
// at its open-connection cap.
func (t *Table) Register(conn net.Conn) (*Handle, error) {
	t.mu.Lock()
	if len(t.handles) >= t.maxOpen {
		t.mu.Unlock()
		_ = conn.Close()
		return nil, fmt.Errorf("fdtable: open connection cap (%d) reached", t.maxOpen)
	}
	t.nextID++
	id := t.nextID
	h := &Handle{ID: id, conn: conn, log: t.log, table: t}
	h.refs.Store(1)
	h.touch()
	t.handles[id] = h
	t.mu.Unlock()
	return h, nil
}

// RegisterUncapped adopts a new connection exempt from the open-connection
// cap, for XDR-type listeners (§4.3, §6: "except for XDR-type listeners,
// which are uncapped").
func (t *Table) RegisterUncapped(conn net.Conn) (*Handle, error) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	h := &Handle{ID: id, conn: conn, log: t.log, table: t}
	h.refs.Store(1)
	h.touch()
	t.handles[id] = h
	t.mu.Unlock()
	return h, nil
}

func (t *Table) free(h *Handle) {
	t.mu.Lock()
	delete(t.handles, h.ID)
	t.mu.Unlock()
}

// OpenCount reports the number of currently registered handles.
func (t *Table) OpenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Reap closes every handle idle for longer than idleThreshold and not
// marked do-not-reap. Returns the number of handles force-closed.
func (t *Table) Reap(idleThreshold time.Duration) int {
	t.mu.Lock()
	candidates := make([]*Handle, 0, len(t.handles))
	for _, h := range t.handles {
		if h.doNotReap.Load() {
			continue
		}
		if h.idleFor() > idleThreshold {
			candidates = append(candidates, h)
		}
	}
	t.mu.Unlock()

	closed := 0
	for _, h := range candidates {
		// Closing the socket makes the owner's pending read fail so it drops
		// its reference; the slot is freed now so the handle stops counting
		// as open.
		_ = h.conn.Close()
		t.free(h)
		closed++
	}
	return closed
}

// StartReaper runs Reap once per second until Stop is called, matching the
// reactor's once-per-second reaper cadence (§4.3).
func (t *Table) StartReaper(idleThreshold time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Reap(idleThreshold)
			case <-t.stopReaper:
				return
			}
		}
	}()
}

// Stop halts the reaper goroutine.
func (t *Table) Stop() {
	t.reaperOnce.Do(func() { close(t.stopReaper) })
}
