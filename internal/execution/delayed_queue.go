package execution

import (
	"container/heap"
	"sync"
	"time"
)

// EventKind names the two delayed-event kinds: cancel latency and
// trade-processing latency.
type EventKind string

const (
	EventCancel      EventKind = "cancel"
	EventTradeUpdate EventKind = "trade_update"
)

// cancelPayload is carried by a cancel delayed event.
type cancelPayload struct {
	orderID string
}

// tradePayload is carried by a trade_update delayed event.
type tradePayload struct {
	price         float64
	size          float64
	aggressorSide string
	ts            time.Time
}

// delayedEvent is one (execute-at, kind, payload) entry.
type delayedEvent struct {
	executeAt time.Time
	kind      EventKind
	payload   any
	seq       int // tie-break for equal timestamps, preserves FIFO order
}

// eventHeap implements heap.Interface ordered by execute-at.
type eventHeap []*delayedEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].executeAt.Equal(h[j].executeAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].executeAt.Before(h[j].executeAt)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*delayedEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// delayedQueue is a mutex-protected priority queue of (execute-at, kind,
// payload) entries, held across enqueue/peek/pop sequences but released
// before user callbacks fire.
type delayedQueue struct {
	mu   sync.Mutex
	h    eventHeap
	next int
}

func newDelayedQueue() *delayedQueue {
	q := &delayedQueue{}
	heap.Init(&q.h)
	return q
}

func (q *delayedQueue) schedule(executeAt time.Time, kind EventKind, payload any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.h, &delayedEvent{executeAt: executeAt, kind: kind, payload: payload, seq: q.next})
	q.next++
}

// popDue pops and returns every event whose execute-at is <= now, in
// execute-at order.
func (q *delayedQueue) popDue(now time.Time) []*delayedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*delayedEvent
	for q.h.Len() > 0 && !q.h[0].executeAt.After(now) {
		due = append(due, heap.Pop(&q.h).(*delayedEvent))
	}
	return due
}
