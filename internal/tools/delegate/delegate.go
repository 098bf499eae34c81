// Package delegate provides the sub-agent tool: a task is handed to a
// fresh agent on a child thread, which runs to completion and reports its
// final message back as the tool result.
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

const defaultTaskTimeout = 10 * time.Minute

const subAgentPrompt = "You are a focused sub-agent. Complete the delegated task using the " +
	"available tools, then summarize what you did and what you found in your " +
	"final message. Be concise; your final message is the only output the " +
	"delegating agent sees."

// Config carries everything a sub-agent needs. Tools is the child's
// registry and must not contain the delegate tool itself; sub-agents do
// not delegate further.
type Config struct {
	Store    *eventlog.Store
	Searcher *eventlog.Searcher
	LLM      engine.LLMClient
	Model    string
	Tools    engine.ToolRegistry
	// RecordMarker routes the delegation marker through the parent
	// agent's append path so its subscribers and the search index see
	// it. When nil the marker is written to the store directly.
	RecordMarker func(ctx context.Context, marker eventlog.SystemMarkerData) error
}

// New returns the delegate tool for the given parent thread. The child
// agent runs with an allow-everything policy: the human approved the
// delegation itself, and the child's work is fully recorded on its own
// thread.
func New(parentThreadID string, cfg Config) engine.Tool {
	return engine.Tool{
		Name:        "delegate",
		Description: "Delegates a self-contained task to a sub-agent running on its own thread. The sub-agent has the same tools (except delegation) and its final message is returned here.",
		SchemaJSON: `{"type":"object","properties":{
			"task":{"type":"string","description":"Complete, self-contained task description for the sub-agent"},
			"timeout_seconds":{"type":"integer","minimum":30,"maximum":1800,"description":"Maximum seconds to wait for the sub-agent (default: 600)"}
		},"required":["task"]}`,
		Timeout: defaultTaskTimeout + time.Minute,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			task, ok := args["task"].(string)
			if !ok || task == "" {
				return "", fmt.Errorf("task must be a non-empty string")
			}
			timeout := defaultTaskTimeout
			if s, ok := args["timeout_seconds"].(float64); ok && s > 0 {
				timeout = time.Duration(s) * time.Second
			}
			return runDelegated(ctx, parentThreadID, task, timeout, cfg)
		},
	}
}

func runDelegated(ctx context.Context, parentThreadID, task string, timeout time.Duration, cfg Config) (string, error) {
	childID, err := cfg.Store.CreateChildThread(ctx, parentThreadID)
	if err != nil {
		return "", fmt.Errorf("failed to create child thread: %w", err)
	}

	// Mark the delegation on the parent log so replay shows where the
	// child thread came from.
	marker := eventlog.SystemMarkerData{
		Kind:        "delegate",
		Note:        task,
		RefThreadID: childID,
	}
	if cfg.RecordMarker != nil {
		if err := cfg.RecordMarker(ctx, marker); err != nil {
			log.Printf("delegate: failed to record marker on %s: %v", parentThreadID, err)
		}
	} else if _, err := cfg.Store.Append(ctx, parentThreadID, eventlog.TypeSystemMarker, marker); err != nil {
		log.Printf("delegate: failed to record marker on %s: %v", parentThreadID, err)
	}

	allowAll := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		allowAll = append(allowAll, name)
	}

	sub := engine.NewAgent(engine.AgentConfig{
		ThreadID:     childID,
		Model:        cfg.Model,
		SystemPrompt: subAgentPrompt,
	}, cfg.Store, cfg.Searcher, cfg.LLM, cfg.Tools, func() engine.PolicyLists {
		return engine.PolicyLists{Allow: allowAll}
	}, nil)

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := sub.HandleUserMessage(taskCtx, task); err != nil {
		return "", fmt.Errorf("sub-agent failed to start: %w", err)
	}
	if err := sub.Wait(taskCtx); err != nil {
		sub.Abort()
		return "", fmt.Errorf("sub-agent did not finish: %w", err)
	}

	final, err := sub.FinalMessage(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read sub-agent result: %w", err)
	}

	result := map[string]any{
		"child_thread_id": childID,
		"result":          final,
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(resultJSON), nil
}
