// Package eventbus fans relay events out to in-process listeners.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the bus counts it as dropped.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type is one of types, or every event
	// when types is empty. unsubscribe closes ch and may be called twice.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus { return &memBus{} }

type listener struct {
	ch    chan Event
	types []string
}

type memBus struct {
	// mu is read-held for the whole fanout so a listener cannot be closed
	// mid-send. Sends never block, so writers wait at most one fanout.
	mu        sync.RWMutex
	listeners []*listener
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		if len(l.types) > 0 && !slices.Contains(l.types, e.Type) {
			continue
		}
		select {
		case l.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	l := &listener{ch: make(chan Event, max(buffer, 1)), types: slices.Clone(types)}

	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()

	return l.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		i := slices.Index(b.listeners, l)
		if i < 0 {
			return
		}
		b.listeners = slices.Delete(b.listeners, i, i+1)
		close(l.ch)
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
