package queue

import (
	"sync"

	"github.com/ahrdadan/uicheck/internal/runner"
)

// eventBuffer bounds how far a subscriber may fall behind before Emit
// starts dropping its events.
const eventBuffer = 32

// Event is a run status change, or a finished scenario when Result is set.
type Event struct {
	RunID    string         `json:"run_id"`
	Status   RunStatus      `json:"status"`
	Progress int            `json:"progress,omitempty"`
	Message  string         `json:"message,omitempty"`
	Result   *runner.Result `json:"result,omitempty"`
}

// Terminal reports whether the event ends its run's stream.
func (e Event) Terminal() bool {
	return e.Result == nil && e.Status.IsTerminal()
}

// EventHub delivers run events to per-run listeners. Delivery never blocks
// the worker: a full listener misses the event.
type EventHub struct {
	mu     sync.Mutex
	runs   map[string]map[chan Event]struct{}
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{runs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel receiving runID's events until Unsubscribe
// or Close. After Close the channel comes back already closed.
func (h *EventHub) Subscribe(runID string) <-chan Event {
	ch := make(chan Event, eventBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	listeners, ok := h.runs[runID]
	if !ok {
		listeners = make(map[chan Event]struct{})
		h.runs[runID] = listeners
	}
	listeners[ch] = struct{}{}
	return ch
}

// Unsubscribe drops ch and closes it. Unknown channels are ignored.
func (h *EventHub) Unsubscribe(runID string, ch <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	listeners := h.runs[runID]
	for c := range listeners {
		if c != ch {
			continue
		}
		delete(listeners, c)
		close(c)
		break
	}
	if len(listeners) == 0 {
		delete(h.runs, runID)
	}
}

func (h *EventHub) Emit(runID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.runs[runID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// listeners is the number of open subscriptions for runID.
func (h *EventHub) listeners(runID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs[runID])
}

// Close ends every subscription, present and future.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for runID, listeners := range h.runs {
		for ch := range listeners {
			close(ch)
		}
		delete(h.runs, runID)
	}
}
