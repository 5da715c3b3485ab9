// Package txn implements the transaction object (§3, §4.5): the
// request-scoped value carried through reception, optional batch
// demultiplexing, UDF application, and reply. The tagged "origin" variant
// and its exactly-once response/claim semantics follow §4.6/§9: rather than
// a trait object, origin dispatch is a plain type switch at the three call
// sites that need it (Respond, RespondError, Timeout), matching the
// source's own preference for a vtable-less enum match at a small, fixed
// set of hot call sites.
//
// BatchOrigin and UDFCompletion are declared here, not in the batch/udf
// packages, specifically so this package never imports them — batch and
// udf both hold transactions and would otherwise form an import cycle with
// txn importing back into them.
package txn

import (
	"fmt"
	"sync"
	"time"

	"kvnode/internal/digest"
	"kvnode/internal/logging"
	"kvnode/internal/storage"
	"kvnode/internal/wire"
)

// Origin is the tagged kind of the requester (glossary).
type Origin int

const (
	OriginClient Origin = iota
	OriginProxy
	OriginBatchSub
	OriginInternalUDF
	OriginInternalNsup
)

func (o Origin) String() string {
	switch o {
	case OriginClient:
		return "client"
	case OriginProxy:
		return "proxy"
	case OriginBatchSub:
		return "batch-sub"
	case OriginInternalUDF:
		return "internal-udf"
	case OriginInternalNsup:
		return "internal-nsup"
	default:
		return "unknown"
	}
}

// ClientHandle is the subset of the file-handle registry contract a
// transaction needs to deliver a response to a client or proxy connection.
type ClientHandle interface {
	Send(frame []byte) error
	EndOfTransaction(forceClose bool)
}

// BatchOrigin is implemented by the batch engine's shared state so a
// batch-sub transaction can deliver its row result without txn importing
// the batch package.
type BatchOrigin interface {
	RespondRow(rowIndex uint32, frame []byte) error
	AbortRow(rowIndex uint32, code wire.ResultCode)
}

// UDFCompletion is implemented by the enclosing job (scan/query/nsup) for
// internally-originated UDF and nsup transactions.
type UDFCompletion interface {
	Complete(code wire.ResultCode, frame []byte)
}

// Flags records per-transaction boolean state (§3).
type Flags uint32

const (
	FlagUDFRequest Flags = 1 << iota
	FlagBatchSubRequest
	FlagRespondOnMasterComplete
	FlagDupResDisabled
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Transaction is the request-scoped state carried through the pipeline
// (§3). Zero value is not usable; construct with New.
type Transaction struct {
	Msgp      []byte
	MsgFields wire.PresenceMask
	Namespace string
	Keyd      digest.Digest

	FromData uint64 // proxy transaction id, or batch row index
	Trid     []byte // client-supplied transaction-id field, echoed on reply if present

	Rsv *storage.Reservation

	StartTime     time.Time
	EndTime       time.Time
	BenchmarkTime time.Duration

	ResultCode     wire.ResultCode
	Generation     uint32
	VoidTime       uint32
	LastUpdateTime int64

	Flags Flags

	log *logging.Facility

	mu         sync.Mutex
	origin     Origin
	from       interface{}
	claimed    bool
}

// New constructs a transaction with the given origin and owning handle
// (the meaning of "handle" depends on origin: ClientHandle for
// client/proxy, BatchOrigin for batch-sub, UDFCompletion for internal
// origins).
func New(log *logging.Facility, origin Origin, from interface{}, msgp []byte) *Transaction {
	return &Transaction{
		log:       log,
		origin:    origin,
		from:      from,
		Msgp:      msgp,
		StartTime: time.Now(),
	}
}

// Origin reports the transaction's origin kind.
func (t *Transaction) Origin() Origin {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.origin
}

// claim nulls t.from exactly once and returns the prior value. The second
// and subsequent callers observe ok=false and must no-op — this is the
// mechanism that arbitrates the timeout-vs-natural-completion race (§4.6)
// and the respond-on-master-complete-vs-repl-write race (§4.8).
func (t *Transaction) claim() (interface{}, Origin, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.claimed {
		return nil, 0, false
	}
	t.claimed = true
	from := t.from
	t.from = nil
	return from, t.origin, true
}

// Claimed reports whether the transaction's origin has already been
// claimed (by a response, error, or timeout), without claiming it.
func (t *Transaction) Claimed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimed
}

// Respond delivers a successful reply frame to the transaction's origin.
// It is a no-op if the origin was already claimed by a race winner
// (timeout, or an earlier respond-on-master-complete). Every stage that
// can produce a terminal outcome must route through Respond, RespondError,
// or Timeout exactly once per transaction (§4.5 invariant).
func (t *Transaction) Respond(frame []byte) error {
	from, origin, ok := t.claim()
	if !ok {
		return nil
	}
	t.EndTime = time.Now()
	return dispatch(t.log, origin, from, t.FromData, t.ResultCode, frame)
}

// RespondError delivers an error reply built from code, dispatching on
// origin exactly as Respond does. An unknown origin reaching here is a
// critical failure (§7: "invariant violations... including unknown
// transaction origin reaching the error emitter").
func (t *Transaction) RespondError(code wire.ResultCode) error {
	from, origin, ok := t.claim()
	if !ok {
		return nil
	}
	t.EndTime = time.Now()
	t.ResultCode = code
	frame := wire.ComposeReply(code, t.Generation, t.VoidTime, nil)
	return dispatch(t.log, origin, from, t.FromData, code, frame)
}

// Timeout is invoked by the request-hash sweeper. If it wins the race
// against natural completion, it emits a TIMEOUT error and, for
// client-originated transactions, force-closes the connection so the
// client does not wait on stale state (§5 Cancellation & timeouts).
func (t *Transaction) Timeout() {
	from, origin, ok := t.claim()
	if !ok {
		return
	}
	t.EndTime = time.Now()
	t.ResultCode = wire.Timeout
	if origin == OriginClient || origin == OriginProxy {
		if h, isHandle := from.(ClientHandle); isHandle {
			_ = h.Send(wire.ComposeReply(wire.Timeout, t.Generation, t.VoidTime, nil))
			h.EndOfTransaction(true)
			return
		}
	}
	_ = dispatch(t.log, origin, from, t.FromData, wire.Timeout, nil)
}

func dispatch(log *logging.Facility, origin Origin, from interface{}, fromData uint64, code wire.ResultCode, frame []byte) error {
	switch origin {
	case OriginClient, OriginProxy:
		h, ok := from.(ClientHandle)
		if !ok {
			criticalUnknownOrigin(log, origin)
			return fmt.Errorf("txn: origin %s missing ClientHandle", origin)
		}
		if frame == nil {
			h.EndOfTransaction(false)
			return nil
		}
		err := h.Send(frame)
		h.EndOfTransaction(err != nil)
		return err
	case OriginBatchSub:
		b, ok := from.(BatchOrigin)
		if !ok {
			criticalUnknownOrigin(log, origin)
			return fmt.Errorf("txn: origin %s missing BatchOrigin", origin)
		}
		if code != wire.OK {
			b.AbortRow(uint32(fromData), code)
			return nil
		}
		return b.RespondRow(uint32(fromData), frame)
	case OriginInternalUDF, OriginInternalNsup:
		c, ok := from.(UDFCompletion)
		if !ok {
			criticalUnknownOrigin(log, origin)
			return fmt.Errorf("txn: origin %s missing UDFCompletion", origin)
		}
		c.Complete(code, frame)
		return nil
	default:
		criticalUnknownOrigin(log, origin)
		return fmt.Errorf("txn: unknown origin %d", origin)
	}
}

func criticalUnknownOrigin(log *logging.Facility, origin Origin) {
	msg := fmt.Sprintf("unknown transaction origin reached error emitter: %s", origin)
	if log != nil {
		log.CriticalNoStack(logging.CtxTxn, msg)
		return
	}
	panic("txn: " + msg)
}
