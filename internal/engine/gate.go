package engine

import (
	"context"
	"log"
	"sync"

	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// Permission is the non-failing half of a gate decision. A denied call does
// not get a Permission; RequestPermission fails with *PolicyDeniedError.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionPending Permission = "pending"
)

// PolicyLists is the hot-reloadable allow/deny configuration consulted
// after per-tool hints.
type PolicyLists struct {
	Allow []string
	Deny  []string
}

// ApprovalGate decides, per tool call, whether execution may proceed now,
// must wait for an explicit decision, or is permanently denied.
//
// Lookup order: per-tool NeverAllow -> configured deny list -> per-tool
// AlwaysAllow -> configured allow list -> session allowance -> ask. Asking
// appends an approval_request event (idempotently) and returns pending; the
// requester resumes via a later approval_response event, never via a
// blocked waiter.
type ApprovalGate struct {
	mu            sync.Mutex
	tools         ToolRegistry
	policy        func() PolicyLists
	session       map[string]bool                      // tool name -> allowed for this session
	pending       map[string]string                    // call id -> tool name, request outstanding
	resolved      map[string]eventlog.ApprovalDecision // call id -> terminal decision
	appendRequest func(ctx context.Context, call ToolCall) error
}

// NewApprovalGate creates a gate over the registry's policy hints. policy
// may be nil (empty lists); appendRequest is invoked exactly once per call
// id that needs asking.
func NewApprovalGate(tools ToolRegistry, policy func() PolicyLists, appendRequest func(ctx context.Context, call ToolCall) error) *ApprovalGate {
	if policy == nil {
		policy = func() PolicyLists { return PolicyLists{} }
	}
	return &ApprovalGate{
		tools:         tools,
		policy:        policy,
		session:       make(map[string]bool),
		pending:       make(map[string]string),
		resolved:      make(map[string]eventlog.ApprovalDecision),
		appendRequest: appendRequest,
	}
}

// RequestPermission evaluates one tool call. It returns PermissionGranted,
// PermissionPending, or fails with *PolicyDeniedError. A duplicate request
// for a call id already pending or already resolved never produces a second
// approval_request event.
func (g *ApprovalGate) RequestPermission(ctx context.Context, call ToolCall) (Permission, error) {
	g.mu.Lock()

	// Answer from prior state first: a restart must answer already-decided
	// ids from the log rather than re-asking.
	if d, ok := g.resolved[call.ID]; ok {
		g.mu.Unlock()
		if d.Allowed() {
			return PermissionGranted, nil
		}
		return "", &PolicyDeniedError{Tool: call.Name, Rule: "prior decision"}
	}
	if _, ok := g.pending[call.ID]; ok {
		g.mu.Unlock()
		return PermissionPending, nil
	}

	tool, known := g.tools[call.Name]
	lists := g.policy()

	if known && tool.NeverAllow {
		g.resolved[call.ID] = eventlog.DecisionDeny
		g.mu.Unlock()
		return "", &PolicyDeniedError{Tool: call.Name, Rule: "tool hint"}
	}
	if containsName(lists.Deny, call.Name) {
		g.resolved[call.ID] = eventlog.DecisionDeny
		g.mu.Unlock()
		return "", &PolicyDeniedError{Tool: call.Name, Rule: "deny list"}
	}
	if (known && tool.AlwaysAllow) || containsName(lists.Allow, call.Name) || g.session[call.Name] {
		g.resolved[call.ID] = eventlog.DecisionAllowOnce
		g.mu.Unlock()
		return PermissionGranted, nil
	}

	g.pending[call.ID] = call.Name
	g.mu.Unlock()

	if err := g.appendRequest(ctx, call); err != nil {
		// The request event was not durably stored: forget the pending
		// marker so a later attempt can re-ask.
		g.mu.Lock()
		delete(g.pending, call.ID)
		g.mu.Unlock()
		return "", err
	}
	return PermissionPending, nil
}

// Resolve records the external decision for a pending call id and returns
// the tool name it was pending under. ok is false when the id was already
// resolved (duplicate delivery) or was never pending; the caller must not
// act twice on the same id.
func (g *ApprovalGate) Resolve(callID string, decision eventlog.ApprovalDecision) (name string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, done := g.resolved[callID]; done {
		log.Printf("gate: ignoring duplicate decision for call %s", callID)
		return "", false
	}
	name, wasPending := g.pending[callID]
	if !wasPending {
		log.Printf("gate: ignoring decision for unknown call %s", callID)
		return "", false
	}
	delete(g.pending, callID)
	g.resolved[callID] = decision
	if decision == eventlog.DecisionAllowSession {
		g.session[name] = true
	}
	return name, true
}

// rollback reverts a decision whose approval_response event was not durably
// stored: the id returns to pending and any session allowance the decision
// granted is withdrawn, so the decision can be delivered again.
func (g *ApprovalGate) rollback(callID, name string, decision eventlog.ApprovalDecision) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.resolved, callID)
	g.pending[callID] = name
	if decision == eventlog.DecisionAllowSession {
		delete(g.session, name)
	}
}

// Pending returns the call ids currently awaiting a decision.
func (g *ApprovalGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id := range g.pending {
		ids = append(ids, id)
	}
	return ids
}

// Prime replays approval events from the log so a restarted gate answers
// already-decided ids immediately and never duplicates a request event.
func (g *ApprovalGate) Prime(events []eventlog.Event) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, ev := range events {
		switch ev.Type {
		case eventlog.TypeApprovalRequest:
			var req eventlog.ApprovalRequestData
			if err := ev.Decode(&req); err != nil {
				log.Printf("gate: skipping bad approval_request %s: %v", ev.ID, err)
				continue
			}
			if _, done := g.resolved[req.CallID]; !done {
				g.pending[req.CallID] = req.Name
			}
		case eventlog.TypeApprovalResponse:
			var resp eventlog.ApprovalResponseData
			if err := ev.Decode(&resp); err != nil {
				log.Printf("gate: skipping bad approval_response %s: %v", ev.ID, err)
				continue
			}
			name := g.pending[resp.CallID]
			delete(g.pending, resp.CallID)
			g.resolved[resp.CallID] = resp.Decision
			if resp.Decision == eventlog.DecisionAllowSession && name != "" {
				g.session[name] = true
			}
		}
	}
}

func containsName(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}
