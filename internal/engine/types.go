// Package engine contains the agent orchestration core: the per-thread
// agent state machine, the approval gate, the tool runner, batch tracking
// and turn monitoring. The event log is the only shared mutable resource;
// everything else is owned by a single Agent instance.
package engine

import (
	"context"
	"fmt"
)

// MessageRole represents the role of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ChatMessage is the provider-agnostic message rebuilt from the event log
// for each provider call.
type ChatMessage struct {
	Role    MessageRole
	Content string
	// Name carries the tool call id for RoleTool messages; providers use it
	// to match a result to its tool_use block.
	Name string
	// ToolCalls are the calls an assistant message requested. Providers
	// require these when reconstructing history.
	ToolCalls []ToolCall
}

// Validate checks that the message has a known role and, for tool results,
// a correlation id.
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.Name == "" {
		return fmt.Errorf("tool messages must carry a call id in Name")
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// ToolCall is a function/tool the assistant requested. ID is globally
// unique within the thread and correlates approval and result events.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult is the terminal outcome of one tool call. Denial by policy and
// execution failure are indistinguishable here; both set IsError.
type ToolResult struct {
	CallID  string
	IsError bool
	Content string
}

// LLMResponse is a normalized result of one provider call.
type LLMResponse struct {
	Assistant    ChatMessage
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string // "stop" | "length" | "tool_calls" | "content_filter"
}

// LLMClient abstracts the provider SDK (OpenAI, Anthropic, ...). Both calls
// must honor ctx cancellation by returning early with ctx.Err() rather than
// a normal result.
type LLMClient interface {
	Chat(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (LLMResponse, error)
	Stream(ctx context.Context, model string, messages []ChatMessage, toolSchemas []ToolSchema, opts ChatOptions) (<-chan StreamEvent, <-chan error)
}

// ChatOptions carries the knobs forwarded to the SDK.
type ChatOptions struct {
	Temperature     float32
	MaxOutputTokens int
	RetryPolicy     *RetryPolicy // nil = defaults
	Stream          bool
}

// ToolSchema is the JSON schema the provider expects for function calling.
type ToolSchema struct {
	Name        string
	Description string
	JSONSchema  string
}

// StreamEvent is one incremental event from a streaming provider call.
type StreamEvent struct {
	Type     string // "text_delta" | "tool_call" | "usage"
	Text     string
	ToolCall ToolCall
	Usage    Usage
}

// ExecutionResult is the structured JSON contract execution tools return,
// so downstream consumers never parse raw command output.
type ExecutionResult struct {
	Cmd             string `json:"cmd"`
	ExitCode        int    `json:"exit_code"`
	Stdout          string `json:"stdout"`
	Stderr          string `json:"stderr"`
	TimedOut        bool   `json:"timed_out,omitempty"`
	Status          string `json:"status,omitempty"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
}
