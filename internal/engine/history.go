package engine

import (
	"log"

	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// BuildHistory reconstructs the provider-facing message sequence from a
// thread's events. It is a pure function of the log, which is what makes
// replay and crash recovery consistent with live state.
//
// Assistant messages carry the tool calls they requested; tool_call events
// themselves are skipped here because they duplicate that payload. A
// requested call that has no terminal result yet is dropped from the
// assistant message, since providers reject histories with unaccounted
// tool calls. Results are emitted directly after the assistant message
// that requested them, regardless of log position: user input recorded
// while a batch was outstanding must not split a call from its result.
func BuildHistory(systemPrompt string, events []eventlog.Event) []ChatMessage {
	var msgs []ChatMessage
	if systemPrompt != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: systemPrompt})
	}

	results := make(map[string]eventlog.ToolResultData)
	for _, ev := range events {
		if ev.Type != eventlog.TypeToolResult {
			continue
		}
		var r eventlog.ToolResultData
		if err := ev.Decode(&r); err != nil {
			log.Printf("history: skipping bad tool_result %s: %v", ev.ID, err)
			continue
		}
		results[r.CallID] = r
	}

	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeUserMessage:
			var m eventlog.UserMessage
			if err := ev.Decode(&m); err != nil {
				log.Printf("history: skipping bad user_message %s: %v", ev.ID, err)
				continue
			}
			msgs = append(msgs, ChatMessage{Role: RoleUser, Content: m.Content})

		case eventlog.TypeAgentMessage:
			var m eventlog.AgentMessage
			if err := ev.Decode(&m); err != nil {
				log.Printf("history: skipping bad agent_message %s: %v", ev.ID, err)
				continue
			}
			var calls []ToolCall
			for _, c := range m.ToolCalls {
				if _, ok := results[c.CallID]; !ok {
					continue
				}
				calls = append(calls, ToolCall{ID: c.CallID, Name: c.Name, Args: c.Args})
			}
			if m.Content == "" && len(calls) == 0 {
				continue
			}
			msgs = append(msgs, ChatMessage{
				Role:      RoleAssistant,
				Content:   m.Content,
				ToolCalls: calls,
			})
			for _, c := range calls {
				r := results[c.ID]
				msgs = append(msgs, ChatMessage{Role: RoleTool, Name: r.CallID, Content: r.Content})
			}
		}
	}
	return msgs
}
