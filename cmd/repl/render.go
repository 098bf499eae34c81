package main

import (
	"encoding/json"
	"fmt"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// renderLoop prints the agent's notification stream until the channel
// closes. Runs on its own goroutine so slow terminals never block the
// agent.
func renderLoop(ch <-chan engine.Notification) {
	for n := range ch {
		switch n.Kind {
		case engine.NotifyEvent:
			if n.Event != nil {
				renderEvent(*n.Event)
			}
		case engine.NotifyTurnProgress:
			// Progress ticks are intentionally quiet; metrics are shown
			// on completion.
		case engine.NotifyTurnComplete:
			if n.Turn != nil {
				fmt.Printf("-- turn done (%.1fs, %d in / %d out tokens)\n",
					float64(n.Turn.ElapsedMs)/1000, n.Turn.TokensIn, n.Turn.TokensOut)
			}
		case engine.NotifyTurnAborted:
			fmt.Println("-- turn aborted")
		case engine.NotifyTurnFailed:
			fmt.Printf("-- turn failed: %v\n", n.Err)
		}
	}
}

func renderEvent(ev eventlog.Event) {
	switch ev.Type {
	case eventlog.TypeAgentMessage:
		var m eventlog.AgentMessage
		if err := ev.Decode(&m); err == nil && m.Content != "" {
			fmt.Printf("\nagent> %s\n", m.Content)
		}
	case eventlog.TypeToolCall:
		var c eventlog.ToolCallData
		if err := ev.Decode(&c); err == nil {
			fmt.Printf("  [tool] %s %s\n", c.Name, compactArgs(c.Args))
		}
	case eventlog.TypeToolResult:
		var r eventlog.ToolResultData
		if err := ev.Decode(&r); err == nil {
			status := "ok"
			if r.IsError {
				status = "error"
			}
			fmt.Printf("  [tool %s] %s: %s\n", status, r.CallID, clip(r.Content, 160))
		}
	case eventlog.TypeApprovalRequest:
		var req eventlog.ApprovalRequestData
		if err := ev.Decode(&req); err == nil {
			fmt.Printf("\n?? approval needed for %s %s\n   /approve %s [always]  or  /deny %s\n",
				req.Name, compactArgs(req.Args), req.CallID, req.CallID)
		}
	case eventlog.TypeApprovalResponse:
		var resp eventlog.ApprovalResponseData
		if err := ev.Decode(&resp); err == nil {
			fmt.Printf("  [approval] %s -> %s\n", resp.CallID, resp.Decision)
		}
	case eventlog.TypeSystemMarker:
		var m eventlog.SystemMarkerData
		if err := ev.Decode(&m); err == nil && m.Kind == "delegate" {
			fmt.Printf("  [delegate] child thread %s\n", m.RefThreadID)
		}
	}
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{...}"
	}
	return clip(string(b), 120)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
