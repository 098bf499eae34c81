package delegate

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// fakeLLM answers every chat with a fixed text response, after requesting
// one tool call on the first turn when withToolCall is set.
type fakeLLM struct {
	mu           sync.Mutex
	calls        int
	withToolCall bool
	finalText    string
}

func (f *fakeLLM) Chat(context.Context, string, []engine.ChatMessage, []engine.ToolSchema, engine.ChatOptions) (engine.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.withToolCall && f.calls == 1 {
		call := engine.ToolCall{ID: "c1", Name: "probe", Args: map[string]any{}}
		return engine.LLMResponse{
			Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, ToolCalls: []engine.ToolCall{call}},
			ToolCalls:    []engine.ToolCall{call},
			FinishReason: "tool_calls",
		}, nil
	}
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: f.finalText},
		FinishReason: "stop",
	}, nil
}

func (f *fakeLLM) Stream(ctx context.Context, model string, msgs []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	eventCh := make(chan engine.StreamEvent)
	errCh := make(chan error, 1)
	go func() {
		defer close(eventCh)
		defer close(errCh)
		resp, err := f.Chat(ctx, model, msgs, schemas, opts)
		if err != nil {
			errCh <- err
			return
		}
		if resp.Assistant.Content != "" {
			eventCh <- engine.StreamEvent{Type: "text_delta", Text: resp.Assistant.Content}
		}
		for _, call := range resp.ToolCalls {
			eventCh <- engine.StreamEvent{Type: "tool_call", ToolCall: call}
		}
	}()
	return eventCh, errCh
}

func TestDelegateRunsSubAgentOnChildThread(t *testing.T) {
	ctx := context.Background()
	store, err := eventlog.Open(ctx, filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.CreateThread(ctx, "parent"); err != nil {
		t.Fatalf("failed to create parent: %v", err)
	}

	var probed bool
	tools := engine.ToolRegistry{
		"probe": {
			Name:       "probe",
			SchemaJSON: `{"type":"object"}`,
			// Gated tool: the sub-agent's allow-all policy must cover it
			// without a pending approval.
			Fn: func(context.Context, map[string]any) (string, error) {
				probed = true
				return "probed", nil
			},
		},
	}

	// Markers must flow through the parent agent's append path, never
	// straight into the store.
	var markers []eventlog.SystemMarkerData
	recordMarker := func(ctx context.Context, m eventlog.SystemMarkerData) error {
		markers = append(markers, m)
		_, err := store.Append(ctx, "parent", eventlog.TypeSystemMarker, m)
		return err
	}

	tool := New("parent", Config{
		Store:        store,
		LLM:          &fakeLLM{withToolCall: true, finalText: "task finished: probe ran"},
		Model:        "test-model",
		Tools:        tools,
		RecordMarker: recordMarker,
	})

	raw, err := tool.Fn(ctx, map[string]any{"task": "run the probe"})
	if err != nil {
		t.Fatalf("delegate failed: %v", err)
	}
	var result struct {
		ChildThreadID string `json:"child_thread_id"`
		Result        string `json:"result"`
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result.Result != "task finished: probe ran" {
		t.Errorf("result = %q", result.Result)
	}
	if !probed {
		t.Error("sub-agent never ran the gated tool")
	}

	// The child is a first-class thread under the parent.
	threads, err := store.Threads(ctx)
	if err != nil {
		t.Fatalf("threads failed: %v", err)
	}
	if parent, ok := threads[result.ChildThreadID]; !ok || parent != "parent" {
		t.Errorf("child thread parent = %q, ok=%v", parent, ok)
	}

	// The delegation left a marker on the parent log.
	events, err := store.Read(ctx, "parent")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var marker eventlog.SystemMarkerData
	found := false
	for _, ev := range events {
		if ev.Type == eventlog.TypeSystemMarker {
			if err := ev.Decode(&marker); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			found = true
		}
	}
	if !found {
		t.Fatal("no system_marker on the parent log")
	}
	if marker.Kind != "delegate" || marker.RefThreadID != result.ChildThreadID {
		t.Errorf("marker = %+v", marker)
	}
	if len(markers) != 1 || markers[0].RefThreadID != result.ChildThreadID {
		t.Errorf("markers routed through callback = %+v, want exactly the delegation marker", markers)
	}

	// The child's own log holds the full delegated conversation.
	childEvents, err := store.Read(ctx, result.ChildThreadID)
	if err != nil {
		t.Fatalf("read child failed: %v", err)
	}
	if len(childEvents) == 0 {
		t.Error("child thread log is empty")
	}
}

func TestDelegateRejectsEmptyTask(t *testing.T) {
	tool := New("parent", Config{})
	for _, args := range []map[string]any{{}, {"task": ""}} {
		if _, err := tool.Fn(context.Background(), args); err == nil {
			t.Errorf("args %v accepted, want error", args)
		}
	}
}
