// Package crud adapts the plain (non-UDF) read/write/delete request path
// onto the UDF pipeline's own master-apply state machine (§4.8): a
// Script that interprets a parsed data message's ops directly against the
// as-rec façade, rather than running an embedded scripting language. This
// keeps every request — UDF or not — routed through the same
// dup-res/master-apply/repl-write/respond pipeline, mirroring how the
// teacher's own pickle codec (internal/replication/codec.go) is shared
// unchanged between its write and UDF-write paths rather than forked.
package crud

import (
	"fmt"

	"kvnode/internal/reply"
	"kvnode/internal/storage"
	"kvnode/internal/udf"
	"kvnode/internal/wire"
)

// Script interprets one request's op list (§3 "n_ops TLV operations")
// against a record during master-apply.
type Script struct {
	Ops []wire.Op
}

// Apply implements udf.Script.
func (s Script) Apply(rec *storage.Record, _ udf.Request, _ *udf.TimeTracker) (udf.ScriptResult, error) {
	if len(s.Ops) == 0 {
		return s.applyRead(rec, nil)
	}

	hasUpdates := false
	for _, op := range s.Ops {
		switch op.Op {
		case wire.OpDelete:
			hasUpdates = true
			rec.Open = false
		case wire.OpWrite:
			val, err := reply.DecodeParticle(op.ParticleType, op.Value)
			if err != nil {
				return udf.ScriptResult{Code: wire.BinName}, nil
			}
			rec.Bins[op.Name] = val
			rec.Open = true
			hasUpdates = true
		case wire.OpIncr:
			delta := reply.DecodeInt64(op.Value)
			cur, _ := rec.Bins[op.Name].(int64)
			rec.Bins[op.Name] = cur + delta
			rec.Open = true
			hasUpdates = true
		case wire.OpAppend:
			add, ok := appendable(op)
			if !ok {
				return udf.ScriptResult{Code: wire.BinName}, nil
			}
			cur, _ := rec.Bins[op.Name].(string)
			rec.Bins[op.Name] = cur + add
			rec.Open = true
			hasUpdates = true
		case wire.OpPrepend:
			add, ok := appendable(op)
			if !ok {
				return udf.ScriptResult{Code: wire.BinName}, nil
			}
			cur, _ := rec.Bins[op.Name].(string)
			rec.Bins[op.Name] = add + cur
			rec.Open = true
			hasUpdates = true
		case wire.OpTouch:
			rec.Open = true
			hasUpdates = true
		case wire.OpRead:
			// handled by applyRead below; a read op in the same request as
			// a write is not supported by this adapter (§1: multi-op
			// read/write ops in one request is a non-goal).
		default:
			return udf.ScriptResult{Code: wire.Parameter}, nil
		}
	}

	if !hasUpdates {
		return s.applyRead(rec, s.Ops)
	}
	return udf.ScriptResult{HasUpdates: true, Open: rec.Open, Bins: rec.Bins, Success: true}, nil
}

func (s Script) applyRead(rec *storage.Record, ops []wire.Op) (udf.ScriptResult, error) {
	if !rec.PreExisted {
		return udf.ScriptResult{Code: wire.NotFound}, nil
	}
	bins := rec.Bins
	if len(ops) > 0 {
		bins = make(map[string]interface{}, len(ops))
		for _, op := range ops {
			v, ok := rec.Bins[op.Name]
			if !ok {
				return udf.ScriptResult{Code: wire.BinName}, nil
			}
			bins[op.Name] = v
		}
	}
	replyOps, err := reply.BinsToOps(bins)
	if err != nil {
		return udf.ScriptResult{}, fmt.Errorf("crud: encoding read reply: %w", err)
	}
	// rec.Open is left untouched (true, from OpenRecord) so Classify sees a
	// non-updating, still-open record and reports READ rather than DELETE.
	return udf.ScriptResult{Open: rec.Open, Bins: rec.Bins, Success: true, Ops: replyOps}, nil
}

func appendable(op wire.Op) (string, bool) {
	switch op.ParticleType {
	case wire.ParticleString:
		return string(op.Value), true
	case wire.ParticleBlob:
		return string(op.Value), true
	default:
		return "", false
	}
}
