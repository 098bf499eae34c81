package engine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// AgentConfig holds the per-agent knobs.
type AgentConfig struct {
	ThreadID        string
	Model           string
	SystemPrompt    string
	MaxOutputTokens int
	Temperature     float32
	Streaming       bool
	RetryPolicy     *RetryPolicy
}

// Agent conducts one conversation thread: it records user input, drives
// provider calls, gates and dispatches tool calls, tracks batch completion
// and decides whether to auto-continue or idle. Each thread owns exactly
// one Agent; agents never share in-memory state, only the event log.
//
// The agent never blocks a turn on a pending approval: dispatching returns
// immediately and resumption is driven by a later approval-response event,
// possibly delivered after a process restart.
type Agent struct {
	cfg      AgentConfig
	store    *eventlog.Store
	searcher *eventlog.Searcher // optional, best-effort
	llm      LLMClient
	tools    ToolRegistry
	gate     *ApprovalGate
	runner   *ToolRunner
	notifier *Notifier
	turn     *TurnMonitor

	mu    sync.Mutex
	state AgentState
	batch *batchTracker
	// detached marks the active batch as belonging to an aborted turn:
	// its calls still resolve and their results are preserved, but
	// completion idles instead of auto-continuing.
	detached bool
	// queued records that a user message arrived while the batch was
	// open; batch completion then always continues so the message is
	// answered, even when the batch was rejected.
	queued bool
	turnCtx  context.Context
	// calls holds the outstanding tool calls by id so a later approval
	// response can still execute them. Rebuilt from the log on recovery.
	calls map[string]ToolCall
}

// NewAgent creates an agent for the thread. policy may be nil; searcher may
// be nil to disable history indexing.
func NewAgent(cfg AgentConfig, store *eventlog.Store, searcher *eventlog.Searcher, llm LLMClient, tools ToolRegistry, policy func() PolicyLists, notifier *Notifier) *Agent {
	if notifier == nil {
		notifier = NewNotifier()
	}
	a := &Agent{
		cfg:      cfg,
		store:    store,
		searcher: searcher,
		llm:      llm,
		tools:    tools,
		notifier: notifier,
		state:    StateIdle,
		calls:    make(map[string]ToolCall),
	}
	a.turn = NewTurnMonitor(cfg.ThreadID, notifier.Publish)
	a.gate = NewApprovalGate(tools, policy, func(ctx context.Context, call ToolCall) error {
		_, err := a.appendEvent(ctx, eventlog.TypeApprovalRequest, eventlog.ApprovalRequestData{
			CallID: call.ID,
			Name:   call.Name,
			Args:   call.Args,
		})
		return err
	})
	a.runner = NewToolRunner(tools)
	return a
}

// Subscribe returns the agent's notification stream. The agent is the sole
// externally visible event source; consumers never read the store directly.
func (a *Agent) Subscribe() (<-chan Notification, func()) {
	return a.notifier.Subscribe()
}

// State returns the agent's current state.
func (a *Agent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PendingApprovals returns the call ids awaiting a decision.
func (a *Agent) PendingApprovals() []string {
	return a.gate.Pending()
}

// ThreadID returns the thread this agent conducts.
func (a *Agent) ThreadID() string {
	return a.cfg.ThreadID
}

// Events returns the thread's full event sequence. All log access funnels
// through the agent.
func (a *Agent) Events(ctx context.Context) ([]eventlog.Event, error) {
	return a.store.Read(ctx, a.cfg.ThreadID)
}

// RecordMarker appends a system_marker through the agent's append path so
// subscribers and the search index observe it. Tools that annotate the
// thread, like delegation, use this instead of writing to the store.
func (a *Agent) RecordMarker(ctx context.Context, marker eventlog.SystemMarkerData) error {
	_, err := a.appendEvent(ctx, eventlog.TypeSystemMarker, marker)
	return err
}

// appendEvent is the single path every log write takes: it persists the
// event, feeds the search index and re-emits the event on the notification
// stream. A failed append is fatal to the caller's operation.
func (a *Agent) appendEvent(ctx context.Context, typ eventlog.EventType, payload any) (eventlog.Event, error) {
	ev, err := a.store.Append(ctx, a.cfg.ThreadID, typ, payload)
	if err != nil {
		return eventlog.Event{}, &LogWriteError{Op: string(typ), Err: err}
	}
	if a.searcher != nil {
		if err := a.searcher.Index(ev); err != nil {
			log.Printf("agent %s: failed to index event %s: %v", a.cfg.ThreadID, ev.ID, err)
		}
	}
	a.notifier.Publish(Notification{Kind: NotifyEvent, ThreadID: a.cfg.ThreadID, Event: &ev})
	return ev, nil
}

// HandleUserMessage accepts a new user message, appends the user event,
// starts a turn and kicks off the provider call. The call returns as soon
// as the turn is started; progress arrives via the notification stream.
//
// While a tool batch is still open (typically parked on a pending
// approval) the message is recorded but no turn starts: it rides the
// batch's own continuation once the last call resolves. Starting a second
// turn in that window would put two provider calls in flight on one
// thread.
func (a *Agent) HandleUserMessage(ctx context.Context, text string) error {
	a.mu.Lock()
	if a.batch != nil {
		_, err := a.appendEvent(ctx, eventlog.TypeUserMessage, eventlog.UserMessage{Content: text})
		if err == nil {
			a.queued = true
		}
		a.mu.Unlock()
		return err
	}
	if a.state != StateIdle || a.turn.Active() {
		a.mu.Unlock()
		return fmt.Errorf("agent is %s; a turn is already in flight", a.state)
	}
	if _, err := a.appendEvent(ctx, eventlog.TypeUserMessage, eventlog.UserMessage{Content: text}); err != nil {
		a.mu.Unlock()
		return err
	}
	turnCtx, _ := a.turn.StartTurn(context.Background())
	a.turnCtx = turnCtx
	a.state = StateThinking
	if a.cfg.Streaming {
		a.state = StateStreaming
	}
	a.mu.Unlock()

	go a.runProvider(turnCtx)
	return nil
}

// Abort cancels the in-flight provider call for this thread, if any, and
// returns the agent to idle. Already-dispatched tool calls run on and their
// results are preserved; no result is fabricated for the interrupted
// provider call. Returns false when there was nothing to abort.
func (a *Agent) Abort() bool {
	aborted := a.turn.Abort()
	if !aborted {
		return false
	}
	a.mu.Lock()
	a.state = StateIdle
	a.turnCtx = nil
	if a.batch != nil && !a.batch.done {
		a.detached = true
	}
	// An abort withdraws any continuation; messages queued before it wait
	// for the user's next input.
	a.queued = false
	a.mu.Unlock()
	return true
}

// runProvider performs one provider call and handles its response. It runs
// on the agent's goroutine for the turn; ctx is the turn's abort switch.
func (a *Agent) runProvider(ctx context.Context) {
	events, err := a.store.Read(ctx, a.cfg.ThreadID)
	if err != nil {
		a.failTurn(&LogWriteError{Op: "read", Err: err})
		return
	}
	msgs := BuildHistory(a.cfg.SystemPrompt, events)
	a.turn.AddTokensIn(EstimateTokensForMessages(msgs))

	opts := ChatOptions{
		Temperature:     a.cfg.Temperature,
		MaxOutputTokens: a.cfg.MaxOutputTokens,
		Stream:          a.cfg.Streaming,
	}
	policy := DefaultRetryPolicy()
	if a.cfg.RetryPolicy != nil {
		policy = *a.cfg.RetryPolicy
	}

	resp, err := retryProviderCall(ctx, policy, func(ctx context.Context) (LLMResponse, error) {
		if a.cfg.Streaming {
			return a.streamOnce(ctx, msgs, opts)
		}
		return a.llm.Chat(ctx, a.cfg.Model, msgs, a.tools.Schemas(), opts)
	}, func(attempt int, delay time.Duration, retryErr error) {
		log.Printf("agent %s: provider retry %d in %s: %v", a.cfg.ThreadID, attempt, delay, retryErr)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Aborted: the turn monitor already emitted turn_aborted.
			a.mu.Lock()
			a.state = StateIdle
			a.mu.Unlock()
			return
		}
		a.failTurn(err)
		return
	}

	a.handleResponse(resp)
}

// streamOnce drains one streaming provider call, updating turn metrics per
// token, and assembles the final response.
func (a *Agent) streamOnce(ctx context.Context, msgs []ChatMessage, opts ChatOptions) (LLMResponse, error) {
	eventCh, errCh := a.llm.Stream(ctx, a.cfg.Model, msgs, a.tools.Schemas(), opts)

	var (
		text      string
		toolCalls []ToolCall
		usage     Usage
	)
	for eventCh != nil || errCh != nil {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			switch ev.Type {
			case "text_delta":
				text += ev.Text
				a.turn.AddTokensOut(EstimateTokens(ev.Text))
			case "tool_call":
				toolCalls = append(toolCalls, ev.ToolCall)
			case "usage":
				usage = ev.Usage
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return LLMResponse{}, err
			}
		case <-ctx.Done():
			return LLMResponse{}, ctx.Err()
		}
	}

	finish := "stop"
	if len(toolCalls) > 0 {
		finish = "tool_calls"
	}
	return LLMResponse{
		Assistant:    ChatMessage{Role: RoleAssistant, Content: text, ToolCalls: toolCalls},
		ToolCalls:    toolCalls,
		Usage:        usage,
		FinishReason: finish,
	}, nil
}

// handleResponse records the agent message and either completes the turn
// (no tool calls) or opens a tool batch and dispatches every call.
func (a *Agent) handleResponse(resp LLMResponse) {
	if resp.Usage.Prompt > 0 || resp.Usage.Completion > 0 {
		a.turn.AddTokensIn(resp.Usage.Prompt)
		a.turn.AddTokensOut(resp.Usage.Completion)
	}

	infos := make([]eventlog.CallInfo, 0, len(resp.ToolCalls))
	for _, c := range resp.ToolCalls {
		infos = append(infos, eventlog.CallInfo{CallID: c.ID, Name: c.Name, Args: c.Args})
	}
	msg := eventlog.AgentMessage{
		Content:      resp.Assistant.Content,
		ToolCalls:    infos,
		TokensIn:     resp.Usage.Prompt,
		TokensOut:    resp.Usage.Completion,
		FinishReason: resp.FinishReason,
	}
	if _, err := a.appendEvent(context.Background(), eventlog.TypeAgentMessage, msg); err != nil {
		a.failTurn(err)
		return
	}

	if len(resp.ToolCalls) == 0 {
		a.mu.Lock()
		a.state = StateIdle
		a.turnCtx = nil
		a.mu.Unlock()
		a.turn.CompleteTurn()
		return
	}

	a.mu.Lock()
	a.state = StateToolExecution
	a.batch = newBatchTracker(resp.ToolCalls)
	a.detached = false
	for _, c := range resp.ToolCalls {
		a.calls[c.ID] = c
	}
	a.mu.Unlock()

	for _, call := range resp.ToolCalls {
		if _, err := a.appendEvent(context.Background(), eventlog.TypeToolCall, eventlog.ToolCallData{
			CallID: call.ID,
			Name:   call.Name,
			Args:   call.Args,
		}); err != nil {
			a.failTurn(err)
			return
		}
		a.dispatchCall(call)
	}

	// All calls dispatched. If the batch did not already complete
	// synchronously, the agent idles; resolution events drive the rest.
	a.mu.Lock()
	if a.batch != nil && !a.batch.done && a.state == StateToolExecution {
		a.state = StateIdle
	}
	a.mu.Unlock()
}

// dispatchCall attempts permission for one call and acts on the outcome.
// Pending calls are left outstanding; denial synthesizes an error result
// immediately, indistinguishable downstream from an execution failure.
func (a *Agent) dispatchCall(call ToolCall) {
	perm, err := a.gate.RequestPermission(context.Background(), call)
	if err != nil {
		if IsLogWrite(err) {
			a.failTurn(err)
			return
		}
		// Policy denial becomes an ordinary error result.
		a.recordResult(ToolResult{CallID: call.ID, IsError: true, Content: err.Error()}, true)
		return
	}
	switch perm {
	case PermissionGranted:
		go a.executeCall(call)
	case PermissionPending:
		// Outstanding until an approval_response event arrives, possibly
		// in another process after a restart.
	}
}

// executeCall runs one granted call to completion and records its result.
// Execution deliberately does not use the turn context: an abort never
// kills a dispatched tool.
func (a *Agent) executeCall(call ToolCall) {
	res := a.runner.Run(context.Background(), call)
	a.recordResult(res, false)
}

// recordResult appends the terminal result for a call and resolves it in
// the batch. rejected marks policy/user denials for the batch's
// auto-continue decision.
func (a *Agent) recordResult(res ToolResult, rejected bool) {
	if _, err := a.appendEvent(context.Background(), eventlog.TypeToolResult, eventlog.ToolResultData{
		CallID:  res.CallID,
		IsError: res.IsError,
		Content: res.Content,
	}); err != nil {
		a.failTurn(err)
		return
	}
	a.finishCall(res.CallID, rejected)
}

// finishCall decrements the batch for one resolved call and, when the
// batch reaches zero, makes the one-shot continue-or-idle decision.
func (a *Agent) finishCall(callID string, rejected bool) {
	a.mu.Lock()
	delete(a.calls, callID)
	if a.batch == nil {
		// Stale resolution for an already-completed batch: ignore and log.
		a.mu.Unlock()
		log.Printf("agent %s: ignoring stale resolution for call %s", a.cfg.ThreadID, callID)
		return
	}
	completed := a.batch.resolve(callID, rejected)
	if !completed {
		a.mu.Unlock()
		return
	}

	hasRejection := a.batch.hasRejection
	detached := a.detached
	queued := a.queued
	a.batch = nil
	a.detached = false
	a.queued = false

	if (hasRejection || detached) && !queued {
		// A rejected batch idles: the next user message carries the
		// accumulated results to the provider. A detached batch belongs
		// to an aborted turn and must not resurrect it. A message queued
		// while the batch was open overrides both: it is that next user
		// message, so the continuation runs.
		a.state = StateIdle
		a.turnCtx = nil
		a.mu.Unlock()
		if hasRejection {
			a.turn.CompleteTurn()
		}
		return
	}

	// Auto-continue: send accumulated results back to the provider. After
	// a restart there is no live turn, so start a fresh one.
	turnCtx := a.turnCtx
	if turnCtx == nil || !a.turn.Active() {
		turnCtx, _ = a.turn.StartTurn(context.Background())
		a.turnCtx = turnCtx
	}
	a.state = StateThinking
	if a.cfg.Streaming {
		a.state = StateStreaming
	}
	a.mu.Unlock()

	go a.runProvider(turnCtx)
}

// ResolveApproval delivers an external decision for a pending call. A
// duplicate delivery for an already-resolved id is ignored. Exactly one of
// two things happens for a freshly resolved id: an error result is
// appended (deny), or the tool executes and its result is appended.
func (a *Agent) ResolveApproval(ctx context.Context, callID string, decision eventlog.ApprovalDecision, decidedBy string) error {
	a.mu.Lock()
	call, outstanding := a.calls[callID]
	a.mu.Unlock()

	name, fresh := a.gate.Resolve(callID, decision)
	if !fresh {
		return nil
	}

	if _, err := a.appendEvent(ctx, eventlog.TypeApprovalResponse, eventlog.ApprovalResponseData{
		CallID:    callID,
		Decision:  decision,
		DecidedBy: decidedBy,
	}); err != nil {
		// The log is authoritative: without the response event the
		// decision did not happen, so put the gate back to pending for a
		// later redelivery.
		a.gate.rollback(callID, name, decision)
		return err
	}

	if !outstanding {
		log.Printf("agent %s: approval for unknown call %s recorded, nothing to run", a.cfg.ThreadID, callID)
		return nil
	}

	if !decision.Allowed() {
		denied := &PolicyDeniedError{Tool: call.Name, Rule: "user decision"}
		a.recordResult(ToolResult{CallID: callID, IsError: true, Content: denied.Error()}, true)
		return nil
	}

	go a.executeCall(call)
	return nil
}

// failTurn aborts the turn on a fatal error (provider transport or log
// write) and idles the agent. Tool-level failures never take this path.
func (a *Agent) failTurn(err error) {
	log.Printf("agent %s: turn failed: %v", a.cfg.ThreadID, err)
	a.mu.Lock()
	a.state = StateIdle
	a.turnCtx = nil
	a.mu.Unlock()
	a.turn.FailTurn(err)
}

// Busy reports whether a turn is active or a batch has unresolved calls.
func (a *Agent) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state != StateIdle || a.batch != nil || a.turn.Active()
}

// Wait blocks until the agent has fully quiesced (idle, no open batch, no
// active turn) or ctx ends. Used by delegation to await a sub-agent.
func (a *Agent) Wait(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !a.Busy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FinalMessage returns the content of the thread's last agent message, or
// empty when none exists.
func (a *Agent) FinalMessage(ctx context.Context) (string, error) {
	events, err := a.store.Read(ctx, a.cfg.ThreadID)
	if err != nil {
		return "", err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != eventlog.TypeAgentMessage {
			continue
		}
		var m eventlog.AgentMessage
		if err := events[i].Decode(&m); err != nil {
			return "", err
		}
		return m.Content, nil
	}
	return "", nil
}
