package reactor

import (
	"bufio"
	"errors"
	"io"
	"sync/atomic"

	"kvnode/internal/compress"
	"kvnode/internal/fdtable"
	"kvnode/internal/logging"
	"kvnode/internal/wire"
)

// connState is the per-connection record named in §4.3: the owning handle
// and last-used timestamp live on *fdtable.Handle itself (it already tracks
// both); transActive is the pause/resume flag; the partial `proto` buffer
// pointer and `proto_unread` count are subsumed by bufio.Reader's own
// internal buffer plus io.ReadFull's short-read accumulation, which give
// the same "drain until the declared size is satisfied, re-arm on a short
// read" behavior without hand-tracked offsets.
type connState struct {
	handle *fdtable.Handle
	reader *bufio.Reader
	worker int

	transActive atomic.Bool
	resume      chan struct{}
}

// txnHandle adapts a connState to txn.ClientHandle, so that the moment a
// transaction's origin dispatch calls EndOfTransaction, the connection's
// read loop is released to resume reading (§4.3 step 5: "resume reads when
// the transaction ends").
type txnHandle struct {
	handle *fdtable.Handle
	state  *connState
}

func (h *txnHandle) Send(frame []byte) error { return h.handle.Send(frame) }

func (h *txnHandle) EndOfTransaction(forceClose bool) {
	h.handle.EndOfTransaction(forceClose)
	h.state.transActive.Store(false)
	select {
	case h.state.resume <- struct{}{}:
	default:
	}
}

// serve runs the per-connection reassembly loop (§4.3). It is the single
// goroutine that ever reads from this connection, which is what makes it
// "pinned to one worker for its lifetime" meaningful in a goroutine-per-
// connection model: the worker index recorded in state is never consulted
// to pick a goroutine; it only tags this connection's log messages (the
// WorkerLoad count is taken once, in spawn).
func (r *Reactor) serve(state *connState) {
	defer state.handle.Release()

	for {
		frameType, body, err := readFrame(state.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && r.log != nil {
				r.log.Log(logging.CtxReactor, logging.Detail, "connection.go", 0, "worker %d: read failed: %v", state.worker, err)
			}
			return
		}

		if frameType == wire.FrameDataCompressed {
			decompressed, derr := compress.Decompress(body)
			if derr != nil {
				if r.log != nil {
					r.log.Log(logging.CtxReactor, logging.Warning, "connection.go", 0, "worker %d: decompress failed: %v", state.worker, derr)
				}
				return
			}
			body = decompressed
			frameType = wire.FrameData
		}

		if !state.handle.Acquire() {
			// The handle is being closed concurrently (reaper, or a force
			// close raced in from elsewhere); nothing left to dispatch to.
			return
		}

		state.transActive.Store(true)
		r.dispatcher.Dispatch(&txnHandle{handle: state.handle, state: state}, frameType, body)

		// Pause: no further reads are attempted on this connection until
		// the dispatched transaction's origin calls EndOfTransaction and
		// signals resume. Nothing else reads from state.reader in the
		// meantime, so this blocks only this connection's goroutine.
		<-state.resume
	}
}

// readFrame performs steps 1-4 of §4.3: peek/read the 8-byte header, swap
// and validate it, then drain the declared body size. bufio.Reader.Peek
// blocks (refilling from the connection) until HeaderSize bytes are
// available or an error occurs, which is this package's translation of
// "peek payload size; if < header_size, wait for more". Peeked bytes beyond
// the header are retained in the reader's buffer and consumed by the
// following io.ReadFull, which is the translation of "splice peeked bytes
// into the body buffer" — no separate splice step is needed because the
// buffer is never discarded between the two reads.
func readFrame(r *bufio.Reader) (wire.FrameType, []byte, error) {
	peeked, err := r.Peek(wire.HeaderSize)
	if err != nil {
		return 0, nil, err
	}
	header, err := wire.ParseHeader(peeked)
	if err != nil {
		return 0, nil, err
	}
	if _, err := r.Discard(wire.HeaderSize); err != nil {
		return 0, nil, err
	}

	body := make([]byte, header.Size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header.Type, body, nil
}
