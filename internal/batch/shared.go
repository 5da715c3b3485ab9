package batch

import (
	"sync"
	"sync/atomic"
	"time"

	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

// SharedState is the per-batch-request shared state every sub-transaction's
// origin points at (§3 "Batch Shared State", §4.7). It implements
// txn.BatchOrigin so individual row transactions dispatch through it exactly
// like any other origin, without batch importing txn's internals.
type SharedState struct {
	mu      sync.Mutex
	current *Buffer
	pool    *bufferPool
	queue   *responseQueue
	handle  txn.ClientHandle

	tranMax   int32
	doneCount atomic.Int32
	finished  atomic.Bool

	resultCode atomic.Uint32
	start      time.Time
}

// NewSharedState constructs the shared state for one incoming batch request
// of tranMax rows, assigned to queue for response flushing.
func NewSharedState(handle txn.ClientHandle, pool *bufferPool, queue *responseQueue, tranMax int) *SharedState {
	return &SharedState{
		handle:  handle,
		pool:    pool,
		queue:   queue,
		tranMax: int32(tranMax),
		start:   time.Now(),
	}
}

// TranMax reports the declared row count.
func (s *SharedState) TranMax() int32 { return s.tranMax }

// ResultCode is the sticky batch-wide result code flushed in the trailer.
func (s *SharedState) ResultCode() wire.ResultCode { return wire.ResultCode(s.resultCode.Load()) }

// stickyResultCode latches the first non-OK, non-NotFound code seen across
// every row (§7: a single bad row does not abort the batch, but its error
// surfaces batch-wide).
func (s *SharedState) stickyResultCode(code wire.ResultCode) {
	if code == wire.OK || code == wire.NotFound {
		return
	}
	for {
		cur := wire.ResultCode(s.resultCode.Load())
		if cur != wire.OK {
			return
		}
		if s.resultCode.CompareAndSwap(uint32(cur), uint32(code)) {
			return
		}
	}
}

// reserveSlot reserves size bytes in the batch's current buffer under the
// shared lock, swapping in a fresh buffer if the reservation would overflow
// it. The lock only protects the current-buffer pointer and the ordering
// decision; copying bytes into the reserved range happens outside the lock.
func (s *SharedState) reserveSlot(size int) (*Buffer, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.used+size > len(s.current.data) {
		prev := s.current
		buf := s.pool.get(size)
		buf.writers.Store(2) // one for buffer-is-current, one for this reservation (§9)
		s.current = buf
		if prev != nil {
			s.commitWriter(prev)
		}
		buf.used = size
		buf.tranCount++
		return buf, 0
	}

	buf := s.current
	offset := buf.used
	buf.used += size
	buf.tranCount++
	buf.writers.Add(1)
	return buf, offset
}

// commitWriter releases one writer reference on buf. The buffer is handed to
// the response queue exactly when its writer count reaches zero (§9): every
// reservation, plus the buffer-is-current slot retired when a newer buffer
// supersedes it or the batch finishes.
func (s *SharedState) commitWriter(buf *Buffer) {
	if buf.writers.Add(-1) == 0 {
		s.queue.ch <- queueItem{handle: s.handle, buf: buf}
	}
}

// RespondRow implements txn.BatchOrigin: the row transaction completed
// normally, frame is its fully composed reply.
func (s *SharedState) RespondRow(rowIndex uint32, frame []byte) error {
	buf, offset := s.reserveSlot(len(frame))
	copy(buf.data[offset:offset+len(frame)], frame)
	s.commitWriter(buf)
	s.onRowDone()
	return nil
}

// AbortRow implements txn.BatchOrigin: the row failed before producing a
// normal reply (e.g. REQUEST_HASH rejected it, or record-too-big). It still
// occupies exactly one sub-reply slot, carrying its own row index and error
// code (§4.7: one sub-reply per declared row, success or failure).
func (s *SharedState) AbortRow(rowIndex uint32, code wire.ResultCode) {
	s.stickyResultCode(code)
	frame := wire.ComposeBatchRowReply(code, 0, 0, nil, rowIndex)
	buf, offset := s.reserveSlot(len(frame))
	copy(buf.data[offset:offset+len(frame)], frame)
	s.commitWriter(buf)
	s.onRowDone()
}

// onRowDone increments the completed-row counter and finishes the batch
// exactly once, the instant every declared row (real or phantom) has
// reported in.
func (s *SharedState) onRowDone() {
	if s.doneCount.Add(1) >= s.tranMax {
		s.finish()
	}
}

// SynthesizePhantom accounts for rows the engine could not dispatch at all
// (e.g. a parse failure mid-batch left fewer real rows than declared): it
// advances the completed-row counter without a buffer write, so the batch
// still finishes exactly once at the declared count (§8: a short batch must
// still flush, not hang).
func (s *SharedState) SynthesizePhantom(count int) {
	if count <= 0 {
		return
	}
	if s.doneCount.Add(int32(count)) >= s.tranMax {
		s.finish()
	}
}

// finish retires the current buffer and enqueues the batch trailer. Guarded
// so concurrently-completing rows that both cross tranMax only flush once.
func (s *SharedState) finish() {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev != nil {
		s.commitWriter(prev)
	}
	s.queue.ch <- queueItem{handle: s.handle, trailer: true, code: s.ResultCode()}
}
