package engine

import (
	"log"
	"sync"

	"github.com/ChamsBouzaiene/kea/internal/eventlog"
)

// NotificationKind classifies notifications on the agent's subscription
// stream.
type NotificationKind string

const (
	NotifyEvent        NotificationKind = "event" // a newly appended log event
	NotifyTurnProgress NotificationKind = "turn_progress"
	NotifyTurnComplete NotificationKind = "turn_complete"
	NotifyTurnAborted  NotificationKind = "turn_aborted"
	NotifyTurnFailed   NotificationKind = "turn_failed"
)

// Notification is one item on the agent's subscription stream. The agent is
// the sole externally visible event source: it re-emits every appended log
// event here, so consumers never subscribe to the store directly.
type Notification struct {
	Kind     NotificationKind
	ThreadID string
	Event    *eventlog.Event // set for NotifyEvent
	Turn     *TurnMetrics    // set for turn notifications
	Err      error           // set for NotifyTurnFailed
}

// Notifier fans notifications out to subscribers. Slow subscribers drop
// notifications rather than blocking the agent.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan Notification
	next int
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notification)}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function that closes it.
func (n *Notifier) Subscribe() (<-chan Notification, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.next
	n.next++
	ch := make(chan Notification, 256)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if c, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers a notification to every subscriber without blocking.
func (n *Notifier) Publish(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
			log.Printf("notifier: dropping %s notification due to full buffer", note.Kind)
		}
	}
}
