package engine

import (
	"sync"
	"time"

	"github.com/roach88/hobbysync/internal/ir"
)

// EventType distinguishes the kinds of events the Run loop consumes.
type EventType int

const (
	// EventTypeInvocation schedules an invocation on its flow.
	EventTypeInvocation EventType = iota + 1
	// EventTypeCompletion carries an action result back from a worker.
	EventTypeCompletion
)

// Event is one unit of work for the Run loop.
type Event struct {
	Type       EventType
	Invocation *ir.Invocation

	// Persisted marks invocations already in the store (recovered ones).
	Persisted bool

	// Result and Elapsed are set on completion events.
	Result  ir.IRObject
	Elapsed time.Duration
}

// eventQueue is an unbounded FIFO. Producers are Submit callers and action
// workers; the only consumer is the Run loop. Unbounded so that a worker
// reporting a result never blocks on a busy loop.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. It returns false once the queue is closed.
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

// TryDequeue pops the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]
	// Clear the slot so the backing array does not pin the payload.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait signals that events may be available. It is closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close rejects further events and wakes the consumer.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
