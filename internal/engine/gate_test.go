package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

func gateRegistry() ToolRegistry {
	return ToolRegistry{
		"read_file":  {Name: "read_file", AlwaysAllow: true},
		"write_file": {Name: "write_file"},
		"drop_db":    {Name: "drop_db", NeverAllow: true},
		"run_cmd":    {Name: "run_cmd"},
	}
}

// requestRecorder counts appendRequest invocations per call id.
type requestRecorder struct {
	requests map[string]int
	fail     error
}

func newRequestRecorder() *requestRecorder {
	return &requestRecorder{requests: make(map[string]int)}
}

func (r *requestRecorder) append(_ context.Context, call ToolCall) error {
	if r.fail != nil {
		return r.fail
	}
	r.requests[call.ID]++
	return nil
}

func TestGateLookupOrder(t *testing.T) {
	tests := []struct {
		name     string
		call     ToolCall
		policy   PolicyLists
		wantPerm Permission
		wantDeny bool
	}{
		{
			name:     "always-allow hint grants",
			call:     ToolCall{ID: "c1", Name: "read_file"},
			wantPerm: PermissionGranted,
		},
		{
			name:     "never-allow hint denies",
			call:     ToolCall{ID: "c2", Name: "drop_db"},
			wantDeny: true,
		},
		{
			name:     "deny list beats allow list",
			call:     ToolCall{ID: "c3", Name: "run_cmd"},
			policy:   PolicyLists{Allow: []string{"run_cmd"}, Deny: []string{"run_cmd"}},
			wantDeny: true,
		},
		{
			name:     "allow list grants",
			call:     ToolCall{ID: "c4", Name: "run_cmd"},
			policy:   PolicyLists{Allow: []string{"run_cmd"}},
			wantPerm: PermissionGranted,
		},
		{
			name:     "unlisted gated tool goes pending",
			call:     ToolCall{ID: "c5", Name: "write_file"},
			wantPerm: PermissionPending,
		},
		{
			name:     "unknown tool goes pending",
			call:     ToolCall{ID: "c6", Name: "mystery"},
			wantPerm: PermissionPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRequestRecorder()
			gate := NewApprovalGate(gateRegistry(), func() PolicyLists { return tt.policy }, rec.append)

			perm, err := gate.RequestPermission(context.Background(), tt.call)
			if tt.wantDeny {
				if !IsPolicyDenied(err) {
					t.Fatalf("got perm=%q err=%v, want policy denial", perm, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if perm != tt.wantPerm {
				t.Errorf("got %q, want %q", perm, tt.wantPerm)
			}
			wantRequests := 0
			if tt.wantPerm == PermissionPending {
				wantRequests = 1
			}
			if rec.requests[tt.call.ID] != wantRequests {
				t.Errorf("appendRequest called %d times, want %d", rec.requests[tt.call.ID], wantRequests)
			}
		})
	}
}

func TestGatePendingIsIdempotent(t *testing.T) {
	rec := newRequestRecorder()
	gate := NewApprovalGate(gateRegistry(), nil, rec.append)
	call := ToolCall{ID: "c1", Name: "write_file"}

	for i := 0; i < 3; i++ {
		perm, err := gate.RequestPermission(context.Background(), call)
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if perm != PermissionPending {
			t.Fatalf("request %d: got %q, want pending", i, perm)
		}
	}
	if rec.requests["c1"] != 1 {
		t.Errorf("appendRequest called %d times, want 1", rec.requests["c1"])
	}

	pending := gate.Pending()
	if len(pending) != 1 || pending[0] != "c1" {
		t.Errorf("pending = %v, want [c1]", pending)
	}
}

func TestGateResolveExactlyOnce(t *testing.T) {
	gate := NewApprovalGate(gateRegistry(), nil, newRequestRecorder().append)
	call := ToolCall{ID: "c1", Name: "write_file"}

	if _, err := gate.RequestPermission(context.Background(), call); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	name, ok := gate.Resolve("c1", eventlog.DecisionAllowOnce)
	if !ok {
		t.Fatal("first resolution was rejected")
	}
	if name != "write_file" {
		t.Errorf("resolved name = %q, want write_file", name)
	}
	if _, ok := gate.Resolve("c1", eventlog.DecisionDeny); ok {
		t.Error("duplicate resolution was accepted")
	}
	if _, ok := gate.Resolve("never-asked", eventlog.DecisionAllowOnce); ok {
		t.Error("resolution of unknown id was accepted")
	}

	// A re-request of the resolved id answers from memory.
	perm, err := gate.RequestPermission(context.Background(), call)
	if err != nil {
		t.Fatalf("re-request failed: %v", err)
	}
	if perm != PermissionGranted {
		t.Errorf("got %q, want granted", perm)
	}
}

func TestGateRollbackRestoresPending(t *testing.T) {
	gate := NewApprovalGate(gateRegistry(), nil, newRequestRecorder().append)
	call := ToolCall{ID: "c1", Name: "write_file"}

	if _, err := gate.RequestPermission(context.Background(), call); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	name, ok := gate.Resolve("c1", eventlog.DecisionAllowSession)
	if !ok {
		t.Fatal("resolution was rejected")
	}

	gate.rollback("c1", name, eventlog.DecisionAllowSession)

	pending := gate.Pending()
	if len(pending) != 1 || pending[0] != "c1" {
		t.Fatalf("pending after rollback = %v, want [c1]", pending)
	}
	// The withdrawn session allowance must not leak to other calls.
	perm, err := gate.RequestPermission(context.Background(), ToolCall{ID: "c2", Name: "write_file"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if perm != PermissionPending {
		t.Errorf("got %q, want pending", perm)
	}
	// The decision can be delivered again.
	if _, ok := gate.Resolve("c1", eventlog.DecisionAllowOnce); !ok {
		t.Error("redelivery after rollback was rejected")
	}
}

func TestGateDeniedAfterResolution(t *testing.T) {
	gate := NewApprovalGate(gateRegistry(), nil, newRequestRecorder().append)
	call := ToolCall{ID: "c1", Name: "write_file"}

	if _, err := gate.RequestPermission(context.Background(), call); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	gate.Resolve("c1", eventlog.DecisionDeny)

	_, err := gate.RequestPermission(context.Background(), call)
	if !IsPolicyDenied(err) {
		t.Fatalf("got %v, want policy denial", err)
	}
}

func TestGateSessionAllowance(t *testing.T) {
	rec := newRequestRecorder()
	gate := NewApprovalGate(gateRegistry(), nil, rec.append)

	if _, err := gate.RequestPermission(context.Background(), ToolCall{ID: "c1", Name: "write_file"}); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	gate.Resolve("c1", eventlog.DecisionAllowSession)

	// A different call id for the same tool no longer asks.
	perm, err := gate.RequestPermission(context.Background(), ToolCall{ID: "c2", Name: "write_file"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if perm != PermissionGranted {
		t.Errorf("got %q, want granted", perm)
	}
	if rec.requests["c2"] != 0 {
		t.Error("session-allowed tool produced a second request event")
	}

	// allow_session is per tool, not global.
	perm, err = gate.RequestPermission(context.Background(), ToolCall{ID: "c3", Name: "run_cmd"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if perm != PermissionPending {
		t.Errorf("other tool got %q, want pending", perm)
	}
}

func TestGateAppendFailureAllowsReask(t *testing.T) {
	rec := newRequestRecorder()
	rec.fail = errors.New("disk full")
	gate := NewApprovalGate(gateRegistry(), nil, rec.append)
	call := ToolCall{ID: "c1", Name: "write_file"}

	if _, err := gate.RequestPermission(context.Background(), call); err == nil {
		t.Fatal("expected append failure to surface")
	}

	rec.fail = nil
	perm, err := gate.RequestPermission(context.Background(), call)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if perm != PermissionPending {
		t.Errorf("got %q, want pending", perm)
	}
	if rec.requests["c1"] != 1 {
		t.Errorf("appendRequest called %d times after retry, want 1", rec.requests["c1"])
	}
}

func gateEvent(t *testing.T, typ eventlog.EventType, payload any) eventlog.Event {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return eventlog.Event{ID: "e-" + string(typ), ThreadID: "main", Type: typ, Timestamp: time.Now(), Data: data}
}

func TestGatePrimeFromLog(t *testing.T) {
	rec := newRequestRecorder()
	gate := NewApprovalGate(gateRegistry(), nil, rec.append)

	gate.Prime([]eventlog.Event{
		gateEvent(t, eventlog.TypeApprovalRequest, eventlog.ApprovalRequestData{CallID: "answered", Name: "write_file"}),
		gateEvent(t, eventlog.TypeApprovalResponse, eventlog.ApprovalResponseData{CallID: "answered", Decision: eventlog.DecisionAllowSession}),
		gateEvent(t, eventlog.TypeApprovalRequest, eventlog.ApprovalRequestData{CallID: "open", Name: "run_cmd"}),
	})

	// Already-answered id is granted without a new request event.
	perm, err := gate.RequestPermission(context.Background(), ToolCall{ID: "answered", Name: "write_file"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if perm != PermissionGranted {
		t.Errorf("answered id got %q, want granted", perm)
	}

	// Unanswered id stays pending and is not re-asked.
	perm, err = gate.RequestPermission(context.Background(), ToolCall{ID: "open", Name: "run_cmd"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if perm != PermissionPending {
		t.Errorf("open id got %q, want pending", perm)
	}
	if len(rec.requests) != 0 {
		t.Errorf("primed gate emitted request events: %v", rec.requests)
	}

	// The allow_session decision replayed from the log covers new calls.
	perm, err = gate.RequestPermission(context.Background(), ToolCall{ID: "fresh", Name: "write_file"})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if perm != PermissionGranted {
		t.Errorf("session tool got %q, want granted", perm)
	}
}
