package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrProducerClosed = errors.New("producer closed")

// Producer is the capture-side entry point: it owns the Batcher and feeds
// the Queue. Calls are serialized so a capture surface may use it from more
// than one goroutine.
type Producer struct {
	mu      sync.Mutex
	batcher *Batcher
	queue   *Queue
	closed  bool
}

func NewProducer(destinations, batchSize int, q *Queue) *Producer {
	return &Producer{batcher: NewBatcher(destinations, batchSize), queue: q}
}

// PasteResult reports what one paste did.
type PasteResult struct {
	Batches int // Send instructions enqueued
	Pending int // lines now waiting at the destination
}

// Paste splits text into lines, ingests them for dest and enqueues every
// batch that became full. It blocks while the queue is full.
func (p *Producer) Paste(ctx context.Context, dest int, text string) (PasteResult, error) {
	return p.Ingest(ctx, dest, SplitLines(text))
}

// Ingest is Paste for pre-split lines.
func (p *Producer) Ingest(ctx context.Context, dest int, lines []string) (PasteResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return PasteResult{}, ErrProducerClosed
	}
	out, err := p.batcher.Ingest(dest, lines)
	if err != nil {
		return PasteResult{}, err
	}
	res := PasteResult{Pending: len(p.batcher.pending[dest])}
	for _, ins := range out {
		if err := p.queue.Enqueue(ctx, ins); err != nil {
			return res, fmt.Errorf("enqueue batch for destination %d: %w", dest, err)
		}
		res.Batches++
	}
	return res, nil
}

// Pending returns the number of lines waiting at each destination.
func (p *Producer) Pending() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.batcher.pending))
	for i, lines := range p.batcher.pending {
		out[i] = len(lines)
	}
	return out
}

// Close flushes every partial batch as one SendAndQuit, enqueues it and
// closes the queue. Only the first call does anything.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	defer p.queue.Close()

	if err := p.queue.Enqueue(ctx, p.batcher.Flush()); err != nil {
		return fmt.Errorf("enqueue shutdown flush: %w", err)
	}
	return nil
}
