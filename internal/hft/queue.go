// Package hft bounds end-to-end intent processing latency with a priority
// queue, preallocated envelopes, batched stage execution, and a latency
// circuit breaker.
package hft

import (
	"errors"
	"sync"
	"time"

	"github.com/helios-trading/brain/pkg/types"
)

// Priority weights. Higher drains first; FIFO within a level is not
// guaranteed.
type Priority int

const (
	PriorityCritical Priority = 1000
	PriorityHigh     Priority = 100
	PriorityNormal   Priority = 10
	PriorityLow      Priority = 1
)

// ErrQueueFull is returned when admission would exceed the bounded size.
var ErrQueueFull = errors.New("hft: priority queue full")

// Envelope carries one signal through the pipeline. Envelopes come from the
// pool and must be released after the batch completes.
type Envelope struct {
	Signal     types.IntentSignal
	Priority   Priority
	EnqueuedAt time.Time
	seq        uint64
}

func (e *Envelope) reset() {
	e.Signal = types.IntentSignal{}
	e.Priority = 0
	e.EnqueuedAt = time.Time{}
	e.seq = 0
}

// Queue is a bounded max-heap over a contiguous backing array.
type Queue struct {
	mu    sync.Mutex
	items []*Envelope
	bound int
	seq   uint64
}

// NewQueue creates a queue holding at most bound envelopes.
func NewQueue(bound int) *Queue {
	if bound <= 0 {
		bound = 1024
	}
	return &Queue{
		items: make([]*Envelope, 0, bound),
		bound: bound,
	}
}

// Push admits an envelope or returns ErrQueueFull.
func (q *Queue) Push(e *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.bound {
		return ErrQueueFull
	}
	q.seq++
	e.seq = q.seq
	q.items = append(q.items, e)
	q.siftUp(len(q.items) - 1)
	return nil
}

// Pop removes the highest-priority envelope, nil when empty.
func (q *Queue) Pop() *Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// PopBatch removes up to n envelopes in priority order.
func (q *Queue) PopBatch(n int) []*Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	out := make([]*Envelope, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.popLocked())
	}
	return out
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) popLocked() *Envelope {
	if len(q.items) == 0 {
		return nil
	}
	top := q.items[0]
	last := len(q.items) - 1
	q.items[0] = q.items[last]
	q.items[last] = nil
	q.items = q.items[:last]
	if len(q.items) > 0 {
		q.siftDown(0)
	}
	return top
}

func (q *Queue) less(i, j int) bool {
	if q.items[i].Priority != q.items[j].Priority {
		return q.items[i].Priority > q.items[j].Priority
	}
	return q.items[i].seq < q.items[j].seq
}

func (q *Queue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			return
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue) siftDown(i int) {
	n := len(q.items)
	for {
		best := i
		if l := 2*i + 1; l < n && q.less(l, best) {
			best = l
		}
		if r := 2*i + 2; r < n && q.less(r, best) {
			best = r
		}
		if best == i {
			return
		}
		q.items[i], q.items[best] = q.items[best], q.items[i]
		i = best
	}
}
