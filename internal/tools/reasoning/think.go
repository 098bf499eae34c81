// Package reasoning provides the agent's scratchpad tool.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ChamsBouzaiene/kea/internal/engine"
)

func thinkImpl(reasoning string) (string, error) {
	log.Printf("agent reasoning: %s", reasoning)

	result := map[string]any{"status": "noted"}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(resultJSON), nil
}

// NewThinkTool returns the think tool. It has no side effects beyond a
// log line, so the gate auto-approves it.
func NewThinkTool() engine.Tool {
	return engine.Tool{
		Name: "think",
		Description: `Record your reasoning and thought process. Use this to make your thinking transparent.

When to use:
- After understanding the task, explain your high-level approach
- Before making changes, explain what you're about to do and why
- When you discover something important, note it
- When choosing between options, explain your decision`,
		SchemaJSON:  `{"type":"object","properties":{"reasoning":{"type":"string","description":"Your reasoning, thought process, or plan. Be specific about files and functions when relevant."}},"required":["reasoning"]}`,
		AlwaysAllow: true,
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			reasoning, ok := args["reasoning"].(string)
			if !ok || reasoning == "" {
				return "", fmt.Errorf("reasoning must be a non-empty string")
			}
			return thinkImpl(reasoning)
		},
	}
}
