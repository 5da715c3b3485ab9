package udf

import (
	"context"
	"sync"
	"time"

	"kvnode/internal/admission"
	"kvnode/internal/digest"
	"kvnode/internal/logging"
	"kvnode/internal/reqhash"
	"kvnode/internal/replication"
	"kvnode/internal/storage"
	"kvnode/internal/txn"
	"kvnode/internal/wire"
)

// Stage is the UDF job's state machine position (§4.8, §9: "a record whose
// stage field advances through {initial, awaiting-dup-res,
// awaiting-repl-write, done}").
type Stage int

const (
	StageInitial Stage = iota
	StageAwaitingDupRes
	StageAwaitingReplWrite
	StageDone
)

// XDRFilter decides whether cross-DC policy rejects a request outright
// before any work happens (§4.8 "xdr-filter reject"). The filtering policy
// itself, like cross-DC shipping, is an external collaborator (§1).
type XDRFilter interface {
	Reject(namespace string, k digest.Key) bool
}

// DupResolver asks peers that may hold a newer copy to vote before master
// apply proceeds (glossary: dup-res). The cluster membership and fabric
// transport needed to actually reach peers are out of scope (§1); this is
// the contract the pipeline suspends on and resumes from (§5 suspension
// points), firing onDone exactly once.
type DupResolver interface {
	Resolve(peers []string, k digest.Key, onDone func(err error))
}

// ReplicaWriter ships an applied record's pickle to duplicate-holding peers,
// firing onAck exactly once when the (out-of-scope) fabric transport
// reports completion.
type ReplicaWriter interface {
	Write(peers []string, pickle replication.Pickle, onAck func(err error))
}

// StatsSink receives per-namespace outcome counters (§4.8 "Statistics
// update"). A nil StatsSink is valid; the job then simply skips recording.
type StatsSink interface {
	RecordRead(namespace string, success bool)
	RecordWrite(namespace string, success bool)
	RecordDelete(namespace string, success bool)
	RecordLangError(namespace string)
}

// Job is one UDF transaction's state machine. The same machine serves
// externally-originated UDFs (origin client/proxy) and internal scan/query
// UDFs (origin internal-udf) identically (§4.8) — the only difference is
// which txn.Origin the enclosing Transaction was constructed with.
type Job struct {
	mu    sync.Mutex
	stage Stage

	tr     *txn.Transaction
	key    digest.Key
	req    Request
	script Script

	storage   *storage.Facade
	hash      *reqhash.Hash
	admission *admission.Controller
	xdrFilter XDRFilter
	dupRes    DupResolver
	replWrite ReplicaWriter
	xdr       *replication.XDRShipper
	stats     StatsSink
	log       *logging.Facility

	crossDCEnabled          bool
	dupResDisabled          bool
	respondOnMasterComplete bool
	timeout                 time.Duration
}

// Config bundles a job's fixed dependencies, shared across every job a node
// runs (§9 "pass them as explicit context handles").
type Config struct {
	Storage   *storage.Facade
	Hash      *reqhash.Hash
	Admission *admission.Controller
	XDRFilter XDRFilter
	DupRes    DupResolver
	ReplWrite ReplicaWriter
	XDR       *replication.XDRShipper
	Stats     StatsSink
	Log       *logging.Facility
}

// NewJob constructs a UDF job for the given transaction and request. tr
// must already carry Namespace and Keyd; its Flags determine dup-res and
// respond-on-master-complete policy (§6 config options, carried per
// transaction from the node's configuration at dispatch time).
func NewJob(cfg Config, tr *txn.Transaction, req Request, script Script, timeout time.Duration) *Job {
	return &Job{
		tr:                      tr,
		key:                     digest.Key{Namespace: tr.Namespace, Digest: tr.Keyd},
		req:                     req,
		script:                  script,
		storage:                 cfg.Storage,
		hash:                    cfg.Hash,
		admission:               cfg.Admission,
		xdrFilter:               cfg.XDRFilter,
		dupRes:                  cfg.DupRes,
		replWrite:               cfg.ReplWrite,
		xdr:                     cfg.XDR,
		stats:                   cfg.Stats,
		log:                     cfg.Log,
		crossDCEnabled:          cfg.XDR != nil,
		dupResDisabled:          tr.Flags.Has(txn.FlagDupResDisabled),
		respondOnMasterComplete: tr.Flags.Has(txn.FlagRespondOnMasterComplete),
		timeout:                 timeout,
	}
}

func (j *Job) setStage(s Stage) {
	j.mu.Lock()
	j.stage = s
	j.mu.Unlock()
}

// Stage reports the job's current state-machine position.
func (j *Job) Stage() Stage {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stage
}

// Start runs the state machine's entry checks and, once past them, either
// enters dup-res or goes straight to master-apply (§4.8 flow chart).
func (j *Job) Start() {
	if j.xdrFilter != nil && j.xdrFilter.Reject(j.key.Namespace, j.key) {
		j.respondError(wire.Forbidden)
		return
	}
	if j.admission != nil && !j.admission.Admit(j.key.Namespace) {
		j.respondError(wire.DeviceOverload)
		return
	}

	if j.hash.Insert(j.key, j.tr, j.timeout) == reqhash.Waiting {
		// Policy decision (§4.6 leaves "chained or rejected per policy" open):
		// this pipeline rejects rather than chains, since chaining would need
		// a second queue this core does not otherwise model. Recorded in
		// DESIGN.md.
		j.respondError(wire.DeviceOverload)
		return
	}

	rsv, err := j.storage.Reserve(j.key)
	if err != nil {
		j.hash.Remove(j.key)
		j.respondError(wire.Parameter)
		return
	}
	j.tr.Rsv = rsv

	if len(rsv.Peers) > 0 && !j.dupResDisabled && j.dupRes != nil {
		j.setStage(StageAwaitingDupRes)
		j.dupRes.Resolve(rsv.Peers, j.key, func(err error) {
			if err != nil {
				j.finishError(rsv, wire.Timeout)
				return
			}
			j.masterApply(rsv)
		})
		return
	}
	j.masterApply(rsv)
}

func (j *Job) masterApply(rsv *storage.Reservation) {
	rec, err := j.storage.OpenRecord(rsv, j.key.Digest)
	if err != nil {
		j.finishError(rsv, wire.Parameter)
		return
	}

	tracker := NewTimeTracker(j.timeout)
	result, err := j.script.Apply(rec, j.req, tracker)
	if err != nil || !result.Success {
		rec.Close()
		if j.stats != nil {
			j.stats.RecordLangError(j.key.Namespace)
		}
		code := result.Code
		if code == wire.OK {
			code = wire.UDFExecution
		}
		j.finishError(rsv, code)
		return
	}

	op := PromoteIfEmpty(Classify(result.HasUpdates, result.Open, rec.PreExisted), result.Bins)

	var pickle replication.Pickle
	switch op {
	case OpWrite:
		rec.Bins = result.Bins
		if err := j.storage.CommitWrite(rsv, rec); err != nil {
			rec.Close()
			j.finishError(rsv, wire.Parameter)
			return
		}
		pickle = replication.Pickle{Namespace: j.key.Namespace, Digest: j.key.Digest, Generation: rec.Generation, VoidTime: rec.VoidTime, Bins: rec.Bins}
		if j.stats != nil {
			j.stats.RecordWrite(j.key.Namespace, true)
		}
	case OpDelete:
		if err := j.storage.CommitDelete(rsv, j.key.Digest); err != nil {
			rec.Close()
			j.finishError(rsv, wire.Parameter)
			return
		}
		pickle = replication.Pickle{Namespace: j.key.Namespace, Digest: j.key.Digest, Deleted: true}
		if j.stats != nil {
			j.stats.RecordDelete(j.key.Namespace, true)
		}
	default:
		if j.stats != nil {
			j.stats.RecordRead(j.key.Namespace, true)
		}
	}

	// §4.8: "the storage record is closed before any cross-DC emission".
	rec.Close()

	j.tr.ResultCode = wire.OK
	j.tr.Generation = rec.Generation
	j.tr.VoidTime = rec.VoidTime
	frame := wire.ComposeReply(wire.OK, rec.Generation, rec.VoidTime, result.Ops)

	needsReplWrite := (op == OpWrite || op == OpDelete) && len(rsv.Peers) > 0 && j.replWrite != nil
	if !needsReplWrite {
		rsv.Release()
		j.hash.Remove(j.key)
		j.setStage(StageDone)
		_ = j.tr.Respond(frame)
		return
	}

	if j.respondOnMasterComplete {
		_ = j.tr.Respond(frame)
	}

	j.setStage(StageAwaitingReplWrite)
	j.replWrite.Write(rsv.Peers, pickle, func(err error) {
		j.shipCrossDC(op, pickle)
		rsv.Release()
		j.hash.Remove(j.key)
		j.setStage(StageDone)
		if !j.respondOnMasterComplete {
			// Respond is exactly-once regardless of which path reaches it
			// first (§4.8: the same from.any nulling used for timeout races).
			_ = j.tr.Respond(frame)
		}
	})
}

func (j *Job) shipCrossDC(op RecordOp, pickle replication.Pickle) {
	if !j.crossDCEnabled || j.xdr == nil {
		return
	}
	encoded, err := replication.Encode(pickle)
	if err != nil {
		return
	}
	ev := replication.ShipEvent{Key: j.key.String(), Pickle: encoded, Deleted: op == OpDelete}
	if err := j.xdr.Ship(context.Background(), ev); err != nil && j.log != nil {
		j.log.Log(logging.CtxReplication, logging.Warning, "pipeline.go", 0, "xdr ship failed for %s: %v", j.key, err)
	}
}

func (j *Job) respondError(code wire.ResultCode) {
	j.setStage(StageDone)
	_ = j.tr.RespondError(code)
}

func (j *Job) finishError(rsv *storage.Reservation, code wire.ResultCode) {
	rsv.Release()
	j.hash.Remove(j.key)
	j.respondError(code)
}
