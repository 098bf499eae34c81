package engine

import (
	"context"
	"log"

	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// Recover rebuilds the agent's derived state from the log after a process
// restart. Recovery is a pure function of the log: the gate is primed with
// prior approval events, outstanding tool calls (a tool_call with no
// tool_result) are re-formed into a batch and re-dispatched through the
// gate, which answers already-decided ids from the log and never re-asks
// or re-executes a call that was pending.
//
// The returned flag reports whether the previous turn was interrupted
// mid-provider-call: the last user message has neither a terminal agent
// message nor outstanding tool calls. No result is fabricated for it; the
// caller decides whether to resend.
func (a *Agent) Recover(ctx context.Context) (interrupted bool, err error) {
	events, err := a.store.Read(ctx, a.cfg.ThreadID)
	if err != nil {
		return false, &LogWriteError{Op: "read", Err: err}
	}

	a.gate.Prime(events)

	// Outstanding calls are those with no terminal result, in log order.
	results := make(map[string]bool)
	for _, ev := range events {
		if ev.Type != eventlog.TypeToolResult {
			continue
		}
		var r eventlog.ToolResultData
		if decodeErr := ev.Decode(&r); decodeErr == nil {
			results[r.CallID] = true
		}
	}

	var outstanding []ToolCall
	lastCallIdx := -1
	for i, ev := range events {
		if ev.Type != eventlog.TypeToolCall {
			continue
		}
		var c eventlog.ToolCallData
		if decodeErr := ev.Decode(&c); decodeErr != nil {
			log.Printf("recover %s: skipping bad tool_call %s: %v", a.cfg.ThreadID, ev.ID, decodeErr)
			continue
		}
		if !results[c.CallID] {
			outstanding = append(outstanding, ToolCall{ID: c.CallID, Name: c.Name, Args: c.Args})
			lastCallIdx = i
		}
	}

	// A user message logged after the outstanding calls was queued while
	// the batch was open; its continuation must survive the restart.
	queued := false
	if lastCallIdx >= 0 {
		for _, ev := range events[lastCallIdx+1:] {
			if ev.Type == eventlog.TypeUserMessage {
				queued = true
				break
			}
		}
	}

	a.mu.Lock()
	a.state = StateIdle
	a.turnCtx = nil
	a.detached = false
	a.batch = nil
	a.queued = queued
	a.calls = make(map[string]ToolCall)
	if len(outstanding) > 0 {
		a.batch = newBatchTracker(outstanding)
		for _, c := range outstanding {
			a.calls[c.ID] = c
		}
	}
	a.mu.Unlock()

	for _, call := range outstanding {
		a.dispatchCall(call)
	}

	if len(outstanding) == 0 {
		interrupted = lastTurnInterrupted(events)
	}
	return interrupted, nil
}

// lastTurnInterrupted reports whether the log ends with a user message
// that never received an agent message.
func lastTurnInterrupted(events []eventlog.Event) bool {
	for i := len(events) - 1; i >= 0; i-- {
		switch events[i].Type {
		case eventlog.TypeAgentMessage:
			return false
		case eventlog.TypeUserMessage:
			return true
		}
	}
	return false
}
