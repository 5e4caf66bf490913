package relay

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueSize is the Queue capacity used when none is configured.
const DefaultQueueSize = 100

var (
	ErrQueueClosed     = errors.New("delivery queue closed")
	ErrConsumerStopped = errors.New("delivery loop stopped")
)

// DequeueStatus is the outcome of a non-blocking dequeue.
type DequeueStatus int

const (
	Empty DequeueStatus = iota
	Dequeued
	Closed
)

func (s DequeueStatus) String() string {
	switch s {
	case Dequeued:
		return "dequeued"
	case Closed:
		return "closed"
	default:
		return "empty"
	}
}

// Queue is a bounded FIFO of instructions with many producers and a single
// consumer. Enqueue blocks while the queue is full.
type Queue struct {
	ch chan Instruction

	// mu serializes Close against in-flight sends.
	mu     sync.RWMutex
	closed bool

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Queue{
		ch:      make(chan Instruction, capacity),
		stopped: make(chan struct{}),
	}
}

// Enqueue appends ins, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, ins Instruction) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case <-q.stopped:
		return ErrConsumerStopped
	default:
	}
	select {
	case q.ch <- ins:
		return nil
	case <-q.stopped:
		return ErrConsumerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the producer side as gone. Instructions already queued can
// still be dequeued. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// TryDequeue never blocks.
func (q *Queue) TryDequeue() (Instruction, DequeueStatus) {
	select {
	case ins, ok := <-q.ch:
		if !ok {
			return nil, Closed
		}
		return ins, Dequeued
	default:
		return nil, Empty
	}
}

// MarkStopped is called by the consumer when it will never dequeue again.
// Blocked and future Enqueue calls fail with ErrConsumerStopped.
func (q *Queue) MarkStopped() {
	q.stopOnce.Do(func() { close(q.stopped) })
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }
