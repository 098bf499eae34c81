package engine

// AgentState is the agent's position in its per-turn state machine:
// idle -> thinking -> (streaming | tool_execution) -> idle. Transitions are
// total functions of (current state, event); an agent is never in more than
// one state per thread.
type AgentState string

const (
	StateIdle          AgentState = "idle"
	StateThinking      AgentState = "thinking"
	StateStreaming     AgentState = "streaming"
	StateToolExecution AgentState = "tool_execution"
)
