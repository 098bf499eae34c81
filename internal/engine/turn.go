package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TurnMetrics measures the turn currently in flight. It exists only while a
// turn is active and is never persisted; an interrupted turn is recoverable
// from the log as "no terminal agent message after the last user event".
type TurnMetrics struct {
	TurnID    string
	StartTime time.Time
	ElapsedMs int64
	TokensIn  int
	TokensOut int
}

// progressInterval is how often an active turn re-emits progress.
const progressInterval = time.Second

// TurnMonitor owns the metrics and cancellation switch for one agent's
// active turn. All methods are safe for concurrent use; the monitor is
// owned by a single Agent.
type TurnMonitor struct {
	mu      sync.Mutex
	metrics *TurnMetrics
	cancel  context.CancelFunc
	stop    chan struct{}
	notify  func(Notification)
	thread  string
}

// NewTurnMonitor creates a monitor that publishes progress through notify.
func NewTurnMonitor(threadID string, notify func(Notification)) *TurnMonitor {
	return &TurnMonitor{notify: notify, thread: threadID}
}

// StartTurn creates fresh TurnMetrics and begins the periodic progress
// tick. It returns a context derived from parent whose cancellation is the
// turn's abort switch, propagated to the in-flight provider call.
func (m *TurnMonitor) StartTurn(parent context.Context) (context.Context, string) {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	m.metrics = &TurnMetrics{
		TurnID:    uuid.NewString(),
		StartTime: time.Now(),
	}
	m.cancel = cancel
	m.stop = make(chan struct{})
	turnID := m.metrics.TurnID
	stop := m.stop
	m.mu.Unlock()

	go m.tick(stop)
	return ctx, turnID
}

func (m *TurnMonitor) tick(stop chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if snap, ok := m.Snapshot(); ok {
				m.notify(Notification{Kind: NotifyTurnProgress, ThreadID: m.thread, Turn: &snap})
			}
		}
	}
}

// AddTokensIn records tokens sent to the provider and re-emits progress.
func (m *TurnMonitor) AddTokensIn(n int) {
	m.addTokens(n, 0)
}

// AddTokensOut records tokens received from the provider and re-emits
// progress.
func (m *TurnMonitor) AddTokensOut(n int) {
	m.addTokens(0, n)
}

func (m *TurnMonitor) addTokens(in, out int) {
	m.mu.Lock()
	if m.metrics == nil {
		m.mu.Unlock()
		return
	}
	m.metrics.TokensIn += in
	m.metrics.TokensOut += out
	snap := *m.metrics
	snap.ElapsedMs = time.Since(snap.StartTime).Milliseconds()
	m.mu.Unlock()

	m.notify(Notification{Kind: NotifyTurnProgress, ThreadID: m.thread, Turn: &snap})
}

// Snapshot returns a copy of the active metrics with ElapsedMs recomputed.
func (m *TurnMonitor) Snapshot() (TurnMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics == nil {
		return TurnMetrics{}, false
	}
	snap := *m.metrics
	snap.ElapsedMs = time.Since(snap.StartTime).Milliseconds()
	return snap, true
}

// Active reports whether a turn is in flight.
func (m *TurnMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics != nil
}

// CompleteTurn stops the tick, emits the terminal turn_complete
// notification with final metrics, and clears the metrics.
func (m *TurnMonitor) CompleteTurn() {
	if snap, ok := m.finish(); ok {
		m.notify(Notification{Kind: NotifyTurnComplete, ThreadID: m.thread, Turn: &snap})
	}
}

// FailTurn stops the tick and emits turn_failed with err.
func (m *TurnMonitor) FailTurn(err error) {
	if snap, ok := m.finish(); ok {
		m.notify(Notification{Kind: NotifyTurnFailed, ThreadID: m.thread, Turn: &snap, Err: err})
	}
}

// Abort cancels the in-flight provider call, stops the tick and emits
// turn_aborted with the metrics accumulated so far. Events already appended
// to the log are untouched. Returns false (nothing to abort) when no turn
// is active, which callers use to distinguish "cancel" from "exit".
func (m *TurnMonitor) Abort() bool {
	snap, ok := m.finish()
	if !ok {
		return false
	}
	m.notify(Notification{Kind: NotifyTurnAborted, ThreadID: m.thread, Turn: &snap})
	return true
}

// finish atomically clears the active turn, cancels its context and stops
// the ticker. It returns the final metrics snapshot.
func (m *TurnMonitor) finish() (TurnMetrics, bool) {
	m.mu.Lock()
	if m.metrics == nil {
		m.mu.Unlock()
		return TurnMetrics{}, false
	}
	snap := *m.metrics
	snap.ElapsedMs = time.Since(snap.StartTime).Milliseconds()
	m.metrics = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
	m.mu.Unlock()
	return snap, true
}
