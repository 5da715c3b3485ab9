package batch

import (
	"kvnode/internal/config"
	"kvnode/internal/logging"
	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

// RowHandler processes one parsed row and eventually calls either
// RespondRow or AbortRow on the row's SharedState (via a *txn.Transaction
// constructed with OriginBatchSub). It is supplied by the reactor/dispatch
// layer, which owns the request hash, storage facade, and replication
// pipeline that batch sub-transactions flow through exactly like any other
// write or read.
type RowHandler func(namespace string, row Row, shared *SharedState)

// Engine owns the buffer pool and worker pool shared by every batch request
// on this node, and enforces the batch-specific admission checks (§7) before
// handing rows to a RowHandler.
type Engine struct {
	pool    *bufferPool
	workers *WorkerPool
	log     *logging.Facility

	enabled      bool
	maxRequests  int
	indexThreads int
}

// NewEngine constructs the batch engine from the node configuration (§6:
// batch-index-threads, batch-max-buffers-per-queue, batch-max-requests).
func NewEngine(cfg *config.Config, log *logging.Facility) *Engine {
	bufferCap := DefaultBufferCapacity
	queueCap := cfg.BatchMaxBuffersPerQueue
	if queueCap <= 0 {
		queueCap = 8
	}
	return &Engine{
		pool:         newBoundedBufferPool(bufferCap, cfg.BatchMaxUnusedBuffers),
		workers:      NewWorkerPool(cfg.BatchIndexThreads, queueCap, log),
		log:          log,
		enabled:      cfg.BatchEnabled(),
		maxRequests:  cfg.BatchMaxRequests,
		indexThreads: cfg.BatchIndexThreads,
	}
}

// Resize adjusts the worker pool size at runtime (§9 dynamic resize). On
// ErrResizeAborted the pool is left at its previous size and indexThreads
// is not updated.
func (e *Engine) Resize(n int) error {
	if err := e.workers.Resize(n); err != nil {
		return err
	}
	e.indexThreads = n
	return nil
}

// Stop halts every response worker.
func (e *Engine) Stop() {
	e.workers.Stop()
}

// QueueDepth reports the summed pending response-buffer count across every
// worker queue, for the ticker's batch-index counters (§4.9).
func (e *Engine) QueueDepth() int {
	return e.workers.QueueDepth()
}

// Dispatch validates and kicks off one incoming batch request: it parses
// the declared rows, checks the batch-specific error taxonomy (§7:
// BatchDisabled, Parameter, BatchMaxRequests, BatchQueuesFull), and invokes
// handle for every row that can be dispatched, synthesizing phantom
// completions for the remainder of any row it could not parse.
func (e *Engine) Dispatch(namespace string, fieldValue []byte, clientHandle txn.ClientHandle, handle RowHandler) error {
	if !e.enabled {
		clientHandle.Send(wire.ComposeBatchTrailer(wire.BatchDisabled)) //nolint:errcheck
		clientHandle.EndOfTransaction(false)
		return nil
	}

	declared, err := DeclaredCount(fieldValue)
	if err != nil {
		clientHandle.Send(wire.ComposeBatchTrailer(wire.Parameter)) //nolint:errcheck
		clientHandle.EndOfTransaction(false)
		return nil
	}
	if e.maxRequests > 0 && declared > e.maxRequests {
		clientHandle.Send(wire.ComposeBatchTrailer(wire.BatchMaxRequests)) //nolint:errcheck
		clientHandle.EndOfTransaction(false)
		return nil
	}
	if declared == 0 {
		clientHandle.Send(wire.ComposeBatchTrailer(wire.Parameter)) //nolint:errcheck
		clientHandle.EndOfTransaction(false)
		return nil
	}

	queue, err := e.workers.Assign()
	if err != nil {
		clientHandle.Send(wire.ComposeBatchTrailer(wire.BatchQueuesFull)) //nolint:errcheck
		clientHandle.EndOfTransaction(false)
		return nil
	}

	shared := NewSharedState(clientHandle, e.pool, queue, declared)

	rows, parseErr := ParseRows(fieldValue)
	for _, row := range rows {
		handle(namespace, row, shared)
	}
	if parseErr != nil {
		shared.SynthesizePhantom(declared - len(rows))
	}
	return nil
}
