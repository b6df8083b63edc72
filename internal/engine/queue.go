package engine

import (
	"sync"

	"github.com/roach88/theatresync/internal/state"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypePush carries one raw push envelope.
	EventTypePush EventType = iota + 1
	// EventTypeTask runs a function on the loop.
	EventTypeTask
	// EventTypeResync asks for a full resynchronization.
	EventTypeResync
	// EventTypeResyncResult delivers the outcome of a state fetch.
	EventTypeResyncResult
	// EventTypeDensityCheck re-checks the session scopes touched since the
	// last check.
	EventTypeDensityCheck
)

// Event is one unit of work for the loop. Only the fields relevant to Type
// are set.
type Event struct {
	Type EventType

	// Raw is the push envelope for EventTypePush.
	Raw []byte

	// Task and Done belong to EventTypeTask. Done is closed after Task runs.
	Task func()
	Done chan struct{}

	// Reason names why a resync was requested.
	Reason string

	// Snapshot and Err are the fetch outcome for EventTypeResyncResult.
	Snapshot *state.Snapshot
	Err      error
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so a burst of push envelopes never blocks the
// socket reader. The Run loop is the only consumer; a channel of size 1
// signals availability so waiting can be combined with ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. Safe from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Clear the slot so the backing array does not pin payloads.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Drain removes and returns every queued event.
func (q *eventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Close signals that no more events will be enqueued and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
