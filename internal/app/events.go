package app

import (
	"context"
	"sync/atomic"
	"time"

	"cliprelay/internal/eventbus"
	"cliprelay/internal/relay"
	logx "cliprelay/pkg/logx"
)

// Stats counts delivery outcomes seen on the bus.
type Stats struct {
	sent      atomic.Uint64
	failed    atomic.Uint64
	recovered atomic.Uint64
	flushed   atomic.Uint64
	lines     atomic.Uint64

	journalErrs atomic.Uint64
	lastFailure atomic.Int64 // unix nanos
}

type StatsSnapshot struct {
	Sent        uint64
	Failed      uint64
	Recovered   uint64
	Flushed     uint64
	Lines       uint64
	JournalErrs uint64
	LastFailure time.Time
}

func (s *Stats) observe(ev relay.DeliveryEvent) {
	if !ev.OK() {
		s.failed.Add(1)
		s.lastFailure.Store(ev.At.UnixNano())
		return
	}
	s.sent.Add(1)
	s.lines.Add(uint64(ev.Lines))
	switch ev.Kind {
	case relay.KindRecovery:
		s.recovered.Add(1)
	case relay.KindFlush:
		s.flushed.Add(1)
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Sent:        s.sent.Load(),
		Failed:      s.failed.Load(),
		Recovered:   s.recovered.Load(),
		Flushed:     s.flushed.Load(),
		Lines:       s.lines.Load(),
		JournalErrs: s.journalErrs.Load(),
	}
	if ns := s.lastFailure.Load(); ns != 0 {
		snap.LastFailure = time.Unix(0, ns)
	}
	return snap
}

func (s StatsSnapshot) fields() []logx.Field {
	return []logx.Field{
		logx.Uint64("sent", s.Sent),
		logx.Uint64("failed", s.Failed),
		logx.Uint64("recovered", s.Recovered),
		logx.Uint64("flushed", s.Flushed),
		logx.Uint64("lines", s.Lines),
	}
}

// watchEvents feeds relay events to the stats, the journal and systemd.
// Events still buffered when ctx ends are handled before returning so the
// final flush makes it into the journal.
func (a *App) watchEvents(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					a.handleEvent(ctx, e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			a.handleEvent(ctx, e)
		}
	}
}

func (a *App) handleEvent(ctx context.Context, e eventbus.Event) {
	switch ev := e.Data.(type) {
	case relay.DeliveryEvent:
		a.stats.observe(ev)
		if a.store == nil {
			return
		}
		// the journal outlives a cancelled run context
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		err := a.store.AppendDelivery(wctx, entryFromEvent(ev))
		cancel()
		if err != nil {
			a.stats.journalErrs.Add(1)
			a.log.Warn("journal append failed", logx.String("kind", ev.Kind), logx.Err(err))
		}

	case relay.StateEvent:
		switch ev.To {
		case relay.StatePolling:
			if ok, err := a.notify.Ready(); err != nil {
				a.log.Warn("sd_notify READY failed", logx.Err(err))
			} else if ok {
				a.log.Debug("sd_notify READY sent")
			}
		case relay.StateDraining:
			_, _ = a.notify.Status("draining")
		}
	}
}
