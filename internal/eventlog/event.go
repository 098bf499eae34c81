// Package eventlog provides the append-only per-thread event store that is
// the sole source of truth for conversation state. Events are never updated
// or deleted; all derived state (batch counters, pending approvals) is
// reconstructed by replaying a thread's events in append order.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies the kind of payload an event carries.
// The set is closed; unknown types are rejected at append time.
type EventType string

const (
	TypeUserMessage      EventType = "user_message"
	TypeAgentMessage     EventType = "agent_message"
	TypeToolCall         EventType = "tool_call"
	TypeToolResult       EventType = "tool_result"
	TypeApprovalRequest  EventType = "approval_request"
	TypeApprovalResponse EventType = "approval_response"
	TypeSystemMarker     EventType = "system_marker"
)

// validTypes is the closed set of event types the store accepts.
var validTypes = map[EventType]bool{
	TypeUserMessage:      true,
	TypeAgentMessage:     true,
	TypeToolCall:         true,
	TypeToolResult:       true,
	TypeApprovalRequest:  true,
	TypeApprovalResponse: true,
	TypeSystemMarker:     true,
}

// Event is one immutable entry in a thread's log. Seq is the append order
// within the store; within a thread it is the only ordering guarantee.
type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	ThreadID  string          `json:"thread_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// UserMessage is the payload of a user_message event.
type UserMessage struct {
	Content string `json:"content"`
}

// AgentMessage is the payload of an agent_message event. ToolCalls records
// the calls the model requested in the same provider response so history
// reconstruction can rebuild the assistant/tool_use/tool_result ordering
// providers require.
type AgentMessage struct {
	Content      string     `json:"content"`
	ToolCalls    []CallInfo `json:"tool_calls,omitempty"`
	TokensIn     int        `json:"tokens_in,omitempty"`
	TokensOut    int        `json:"tokens_out,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// CallInfo mirrors a requested tool call inside an agent_message payload.
type CallInfo struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
}

// ToolCallData is the payload of a tool_call event. CallID is unique within
// the thread and correlates approval and result events.
type ToolCallData struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
}

// ToolResultData is the payload of a tool_result event. A call has at most
// one terminal result; denial and execution failure both set IsError.
type ToolResultData struct {
	CallID  string `json:"call_id"`
	IsError bool   `json:"is_error"`
	Content string `json:"content"`
}

// ApprovalDecision is the three-way outcome of a human/policy decision.
type ApprovalDecision string

const (
	DecisionAllowOnce    ApprovalDecision = "allow_once"
	DecisionAllowSession ApprovalDecision = "allow_session"
	DecisionDeny         ApprovalDecision = "deny"
)

// ApprovalRequestData is the payload of an approval_request event.
type ApprovalRequestData struct {
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args,omitempty"`
}

// ApprovalResponseData is the payload of an approval_response event.
type ApprovalResponseData struct {
	CallID    string           `json:"call_id"`
	Decision  ApprovalDecision `json:"decision"`
	DecidedBy string           `json:"decided_by,omitempty"`
}

// SystemMarkerData is the payload of a system_marker event, used for
// config changes and delegation references.
type SystemMarkerData struct {
	Kind string `json:"kind"`
	Note string `json:"note,omitempty"`
	// RefThreadID references another thread (e.g. a spawned delegate).
	RefThreadID string `json:"ref_thread_id,omitempty"`
}

// Allowed reports whether Deny is false and the decision grants execution.
func (d ApprovalDecision) Allowed() bool {
	return d == DecisionAllowOnce || d == DecisionAllowSession
}
