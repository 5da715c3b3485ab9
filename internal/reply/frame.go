package reply

import "kvnode/internal/wire"

// Frame composes a single data-message reply frame, converting bins to ops
// (deterministically ordered) and appending any explicitly supplied ops
// after them, then echoing trid back as a transaction-id field when the
// request carried one (§4.2 make_reply: "bins?, ops?, n_ops, trid?").
func Frame(code wire.ResultCode, generation, voidTime uint32, bins map[string]interface{}, ops []wire.Op, trid []byte) ([]byte, error) {
	var allOps []wire.Op
	if len(bins) > 0 {
		binOps, err := BinsToOps(bins)
		if err != nil {
			return nil, err
		}
		allOps = append(allOps, binOps...)
	}
	allOps = append(allOps, ops...)

	var fields []wire.Field
	if len(trid) > 0 {
		fields = append(fields, wire.Field{Type: wire.FieldTransactionID, Value: trid})
	}

	m := wire.DataMessage{
		ResultCode: code,
		Generation: generation,
		RecordTTL:  voidTime,
		Fields:     fields,
		Ops:        allOps,
	}
	body := wire.ComposeDataMessage(m)
	header := wire.ComposeHeader(wire.FrameData, uint64(len(body)))
	return append(header, body...), nil
}

// Error composes a bare error reply frame: no fields, no ops, just the
// result code. Equivalent to wire.ComposeReply(code, 0, 0, nil); kept here
// so every reply-shaping call site lives in one package rather than half
// calling into wire directly.
func Error(code wire.ResultCode) []byte {
	return wire.ComposeReply(code, 0, 0, nil)
}
