package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// defaultToolTimeout bounds a single tool execution when the tool declares
// no timeout of its own.
const defaultToolTimeout = 60 * time.Second

// ToolRunner executes one approved tool call against the registry. Run
// never lets a failure escape its boundary: unknown tools, validation
// errors, panics and timeouts are all converted to error ToolResults. The
// runner does not touch the event log; the agent records the result.
type ToolRunner struct {
	tools ToolRegistry
}

// NewToolRunner creates a runner over the registry.
func NewToolRunner(tools ToolRegistry) *ToolRunner {
	return &ToolRunner{tools: tools}
}

// Run executes the call and returns its terminal result.
func (r *ToolRunner) Run(ctx context.Context, call ToolCall) ToolResult {
	tool, ok := r.tools[call.Name]
	if !ok {
		return errorResult(call.ID, fmt.Sprintf("tool not found: %s (available tools: %s)",
			call.Name, strings.Join(r.tools.Names(), ", ")))
	}

	if err := tool.ValidateArgs(call.Args); err != nil {
		return errorResult(call.ID, err.Error())
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = defaultToolTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content, err := r.invoke(runCtx, tool, call)
	if err != nil {
		execErr := &ExecutionError{Tool: call.Name, Err: err}
		return errorResult(call.ID, execErr.Error())
	}
	return ToolResult{CallID: call.ID, Content: content}
}

// invoke calls the tool function, converting panics to errors.
func (r *ToolRunner) invoke(ctx context.Context, tool Tool, call ToolCall) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	content, err = tool.Fn(ctx, call.Args)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return content, err
}

func errorResult(callID, msg string) ToolResult {
	return ToolResult{CallID: callID, IsError: true, Content: msg}
}
