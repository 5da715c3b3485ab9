package batch

import (
	"fmt"
	"sync"
	"time"

	"kvnode/internal/logging"
	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

// queueItem is one unit of response-worker work: either a filled buffer to
// flush, or the batch's final trailer frame (which also ends the client
// transaction).
type queueItem struct {
	handle  txn.ClientHandle
	buf     *Buffer
	trailer bool
	code    wire.ResultCode
}

// responseQueue is one worker's bounded inbox, modeled on the
// queue-per-worker shape of the teacher's flow_writer.go (a bounded channel
// drained by a single dedicated goroutine, rather than a shared work-stealing
// pool).
type responseQueue struct {
	ch  chan queueItem
	log *logging.Facility
}

func newResponseQueue(capacity int, log *logging.Facility) *responseQueue {
	return &responseQueue{ch: make(chan queueItem, capacity), log: log}
}

func (q *responseQueue) run(stop <-chan struct{}) {
	for {
		select {
		case item, ok := <-q.ch:
			if !ok {
				return
			}
			q.deliver(item)
		case <-stop:
			return
		}
	}
}

func (q *responseQueue) deliver(item queueItem) {
	if item.trailer {
		_ = item.handle.Send(wire.ComposeBatchTrailer(item.code))
		item.handle.EndOfTransaction(false)
		return
	}
	if err := item.handle.Send(item.buf.Bytes()); err != nil && q.log != nil {
		q.log.Log(logging.CtxBatch, logging.Warning, "worker.go", 0, "batch flush failed: %v", err)
	}
	item.buf.release()
}

// drain reports whether the queue is currently empty, used by Resize's
// shrink-with-drain wait.
func (q *responseQueue) drain() bool {
	return len(q.ch) == 0
}

// WorkerPool is the fixed-size set of response-flushing workers shared by
// every in-flight batch (§4.7, §9 resize). A batch is assigned one queue for
// its lifetime; assignment is counter-mod-size with a linear fallback search
// so a transiently saturated queue does not immediately fail the batch.
type WorkerPool struct {
	mu       sync.Mutex
	queues   []*responseQueue
	stop     chan struct{}
	wg       sync.WaitGroup
	counter  uint64
	queueCap int
	log      *logging.Facility
}

// NewWorkerPool constructs n response workers, each with a queue of the
// given capacity, and starts them.
func NewWorkerPool(n, queueCap int, log *logging.Facility) *WorkerPool {
	if n <= 0 {
		n = 1
	}
	p := &WorkerPool{queueCap: queueCap, log: log, stop: make(chan struct{})}
	for i := 0; i < n; i++ {
		p.addQueueLocked()
	}
	return p
}

func (p *WorkerPool) addQueueLocked() {
	q := newResponseQueue(p.queueCap, p.log)
	p.queues = append(p.queues, q)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		q.run(p.stop)
	}()
}

// ErrQueuesFull reports that every response queue was saturated at
// assignment time (wire.BatchQueuesFull, §7).
var ErrQueuesFull = fmt.Errorf("batch: all response queues are full")

// Assign picks a queue for a new batch: counter-mod-size, falling back to a
// linear scan of the remaining queues if the chosen one is full (§9).
func (p *WorkerPool) Assign() (*responseQueue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.queues)
	if n == 0 {
		return nil, ErrQueuesFull
	}
	start := int(p.counter % uint64(n))
	p.counter++
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		q := p.queues[idx]
		if len(q.ch) < cap(q.ch) {
			return q, nil
		}
	}
	return nil, ErrQueuesFull
}

// resizeDrainTimeout bounds how long Resize waits for a retiring queue to
// drain before aborting the shrink (§9).
const resizeDrainTimeout = 30 * time.Second

// ErrResizeAborted reports that a shrink could not complete because a
// retiring queue had not drained within the timeout; the pool is left
// unchanged (§9: "drain succeeds within 30s or the resize is aborted and
// the queues are re-activated").
var ErrResizeAborted = fmt.Errorf("batch: resize aborted, a retiring queue did not drain in time")

// Resize grows or shrinks the pool to n workers. Shrinking waits for the
// retiring queues to drain, polling every 500ms, up to a 30s timeout (§9).
// If any retiring queue is still non-empty past the deadline, the resize is
// aborted: every retiring queue is put back into the pool, still open and
// writable, instead of being closed out from under whatever goroutine still
// holds it.
func (p *WorkerPool) Resize(n int) error {
	return p.resize(n, resizeDrainTimeout)
}

func (p *WorkerPool) resize(n int, drainTimeout time.Duration) error {
	if n <= 0 {
		n = 1
	}
	p.mu.Lock()
	cur := len(p.queues)
	if n >= cur {
		for i := cur; i < n; i++ {
			p.addQueueLocked()
		}
		p.mu.Unlock()
		return nil
	}
	retiring := append([]*responseQueue(nil), p.queues[n:]...)
	p.queues = p.queues[:n]
	p.mu.Unlock()

	deadline := time.Now().Add(drainTimeout)
	for _, q := range retiring {
		for !q.drain() && time.Now().Before(deadline) {
			time.Sleep(500 * time.Millisecond)
		}
	}

	for _, q := range retiring {
		if !q.drain() {
			p.mu.Lock()
			p.queues = append(p.queues, retiring...)
			p.mu.Unlock()
			return ErrResizeAborted
		}
	}

	for _, q := range retiring {
		close(q.ch)
	}
	return nil
}

// Stop halts every worker goroutine.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// QueueDepth returns the summed pending item count across every response
// queue, for the ticker's batch-index counters (§4.9).
func (p *WorkerPool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, q := range p.queues {
		total += len(q.ch)
	}
	return total
}
