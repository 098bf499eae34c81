package engine

// batchTracker counts outstanding tool calls belonging to one provider
// response and records whether any were denied or failed by policy. It is
// owned by one Agent and only touched under the agent's lock.
//
// Completion is commutative over resolution order and fires exactly once:
// the done flag guards against duplicate completion if a stale resolution
// arrives after the batch already reached zero.
type batchTracker struct {
	pending      int
	hasRejection bool
	done         bool
	// outstanding tracks call ids that have not reached a terminal result,
	// so duplicate approval deliveries resolve a call at most once.
	outstanding map[string]bool
}

func newBatchTracker(calls []ToolCall) *batchTracker {
	b := &batchTracker{
		pending:     len(calls),
		outstanding: make(map[string]bool, len(calls)),
	}
	for _, c := range calls {
		b.outstanding[c.ID] = true
	}
	return b
}

// resolve marks one call terminal. It returns completed=true exactly once,
// when the last outstanding call resolves. Resolving an unknown or
// already-resolved call id is a no-op.
func (b *batchTracker) resolve(callID string, rejected bool) (completed bool) {
	if b == nil || b.done || !b.outstanding[callID] {
		return false
	}
	delete(b.outstanding, callID)
	b.pending--
	if rejected {
		b.hasRejection = true
	}
	if b.pending == 0 {
		b.done = true
		return true
	}
	return false
}

// has reports whether the call id belongs to this batch and is still
// outstanding.
func (b *batchTracker) has(callID string) bool {
	return b != nil && !b.done && b.outstanding[callID]
}
