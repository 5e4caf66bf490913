package relay

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownDestination = errors.New("unknown destination")

// Ledger remembers every line accepted for any destination during the
// process lifetime. It is never pruned.
type Ledger struct {
	seen map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{seen: map[string]struct{}{}}
}

// Accept records line and reports whether it was new.
func (l *Ledger) Accept(line string) bool {
	if _, ok := l.seen[line]; ok {
		return false
	}
	l.seen[line] = struct{}{}
	return true
}

func (l *Ledger) Contains(line string) bool {
	_, ok := l.seen[line]
	return ok
}

func (l *Ledger) Len() int { return len(l.seen) }

// Batcher accumulates accepted lines per destination and emits full batches.
//
// A Batcher is owned by the capture side and is not safe for concurrent use.
type Batcher struct {
	size    int
	ledger  *Ledger
	pending [][]string
}

// NewBatcher returns a Batcher for destinations [0, n).
func NewBatcher(n, batchSize int) *Batcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Batcher{
		size:    batchSize,
		ledger:  NewLedger(),
		pending: make([][]string, n),
	}
}

// Destinations returns N.
func (b *Batcher) Destinations() int { return len(b.pending) }

// Pending returns a copy of the lines waiting for a full batch at dest.
func (b *Batcher) Pending(dest int) []string {
	if dest < 0 || dest >= len(b.pending) {
		return nil
	}
	return append([]string(nil), b.pending[dest]...)
}

// Ingest accepts raw lines for dest and returns the Send instructions that
// became ready. Empty lines and lines seen before (for any destination) are
// discarded.
func (b *Batcher) Ingest(dest int, lines []string) ([]Instruction, error) {
	if dest < 0 || dest >= len(b.pending) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrUnknownDestination, dest, len(b.pending))
	}
	for _, line := range lines {
		if line == "" || !b.ledger.Accept(line) {
			continue
		}
		b.pending[dest] = append(b.pending[dest], line)
	}

	var out []Instruction
	p := b.pending[dest]
	for len(p) >= b.size {
		out = append(out, Send{
			Content:     strings.Join(p[:b.size], LineSeparator),
			Destination: dest,
		})
		p = p[b.size:]
	}
	// Copy the remainder so emitted prefixes can be collected.
	b.pending[dest] = append([]string(nil), p...)
	return out, nil
}

// Flush drains every destination's pending lines into one SendAndQuit.
func (b *Batcher) Flush() SendAndQuit {
	contents := make([]string, len(b.pending))
	for i, p := range b.pending {
		contents[i] = strings.Join(p, LineSeparator)
		b.pending[i] = nil
	}
	return SendAndQuit{Contents: contents}
}
