package batch

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferCapacity is the default per-buffer response capacity (§9
// open question: 128 KiB).
const DefaultBufferCapacity = 128 * 1024

// Buffer accumulates a batch's streamed row replies before a worker flushes
// it to the client in one write. Multiple rows may write into disjoint
// ranges of the same buffer concurrently; writers is the outstanding count
// of reservations plus one for "currently the batch's active buffer" (§9).
type Buffer struct {
	data      []byte
	used      int
	tranCount int
	writers   atomic.Int32
	oversize  bool // true if grown past the pool's standard capacity; not returned to the pool
	pool      *bufferPool
}

func newBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) reset(capacity int) {
	if cap(b.data) < capacity {
		b.data = make([]byte, capacity)
	} else {
		b.data = b.data[:capacity]
	}
	b.used = 0
	b.tranCount = 0
	b.writers.Store(0)
	b.oversize = false
}

// Bytes returns the written portion of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.used] }

// release returns the buffer to its owning pool, if any.
func (b *Buffer) release() {
	if b.pool != nil && !b.oversize {
		b.pool.put(b)
	}
}

// bufferPool recycles Buffers at a fixed standard capacity, grounded on the
// entry-pool shape in internal/replica's RDB entry recycling (get/put over a
// sync.Pool rather than a hand-rolled freelist). maxUnused caps how many idle
// buffers the pool holds onto (§6 batch-max-unused-buffers, §4.7 "capped free
// pool"); sync.Pool has no such cap on its own; buffers returned past the cap
// are simply dropped for the garbage collector instead of being retained.
type bufferPool struct {
	pool      sync.Pool
	capacity  int
	maxUnused int
	unused    atomic.Int32
}

func newBufferPool(capacity int) *bufferPool {
	return newBoundedBufferPool(capacity, 0)
}

// newBoundedBufferPool is newBufferPool with an explicit cap on idle buffers.
// maxUnused <= 0 means uncapped.
func newBoundedBufferPool(capacity, maxUnused int) *bufferPool {
	p := &bufferPool{capacity: capacity, maxUnused: maxUnused}
	p.pool.New = func() interface{} { return newBuffer(capacity) }
	return p
}

// get returns a buffer sized to hold at least size bytes. Requests larger
// than the pool's standard capacity get a one-off oversize buffer that is
// discarded (not pooled) after use, rather than growing the pool's standard
// size for every future batch.
func (p *bufferPool) get(size int) *Buffer {
	if size > p.capacity {
		b := newBuffer(size)
		b.oversize = true
		b.pool = p
		return b
	}
	b := p.pool.Get().(*Buffer)
	// A buffer that was idle in the pool still carries its pool pointer; a
	// freshly allocated one does not and was never counted as unused.
	if p.maxUnused > 0 && b.pool != nil {
		p.unused.Add(-1)
	}
	b.reset(p.capacity)
	b.pool = p
	return b
}

func (p *bufferPool) put(b *Buffer) {
	if p.maxUnused > 0 && p.unused.Add(1) > int32(p.maxUnused) {
		p.unused.Add(-1)
		return
	}
	p.pool.Put(b)
}
