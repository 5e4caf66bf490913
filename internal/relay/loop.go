package relay

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"cliprelay/internal/eventbus"
	rtsup "cliprelay/internal/runtime/supervisor"
	kit "cliprelay/internal/transport"
	logx "cliprelay/pkg/logx"
)

// DefaultPollInterval is the fixed delay between two dequeue attempts.
const DefaultPollInterval = time.Second

// State of the delivery loop.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type LoopConfig struct {
	Destinations []Destination
	PollInterval time.Duration
	BatchSize    int
	// TerminateTimeout bounds the final disconnect.
	TerminateTimeout time.Duration
}

// Loop is the single consumer of a Queue. It recovers source backlogs once
// the backend is ready, then polls the queue until told to quit.
type Loop struct {
	cfg     LoopConfig
	queue   *Queue
	backend kit.Backend
	log     logx.Logger
	bus     eventbus.Bus

	started atomic.Bool
	state   atomic.Int32
	done    chan struct{}
}

func NewLoop(cfg LoopConfig, q *Queue, backend kit.Backend, log logx.Logger, bus eventbus.Bus) *Loop {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.TerminateTimeout <= 0 {
		cfg.TerminateTimeout = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		cfg:     cfg,
		queue:   q,
		backend: backend,
		log:     log,
		bus:     bus,
		done:    make(chan struct{}),
	}
}

func (l *Loop) State() State { return State(l.state.Load()) }

// Done is closed once the loop reached StateStopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Ready is the backend readiness signal. The first call starts recovery and
// polling under sup; later calls are ignored and return false.
func (l *Loop) Ready(sup *rtsup.Supervisor) bool {
	if !l.started.CompareAndSwap(false, true) {
		l.log.Debug("backend ready again; loop already running")
		return false
	}
	sup.Go("relay.loop", l.run)
	return true
}

func (l *Loop) setState(to State) {
	from := State(l.state.Swap(int32(to)))
	if from == to {
		return
	}
	l.log.Debug("loop state", logx.String("from", from.String()), logx.String("to", to.String()))
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: EventState, Data: StateEvent{From: from, To: to}})
	}
}

func (l *Loop) run(ctx context.Context) error {
	defer close(l.done)
	defer l.queue.MarkStopped()

	l.recoverAll(ctx)
	if ctx.Err() != nil {
		l.stop(ctx, nil, "context cancelled during recovery")
		return nil
	}

	l.setState(StatePolling)
	l.log.Info("delivery loop polling", logx.Duration("interval", l.cfg.PollInterval), logx.Int("queue_cap", l.queue.Cap()))

	t := time.NewTimer(l.cfg.PollInterval)
	defer t.Stop()
	for {
		ins, st := l.queue.TryDequeue()
		switch st {
		case Dequeued:
			switch v := ins.(type) {
			case Send:
				l.dispatch(ctx, KindSend, v.Destination, v.Content)
			case SendAndQuit:
				l.stop(ctx, v.Contents, "shutdown requested")
				return nil
			}
		case Closed:
			l.stop(ctx, nil, "queue closed without shutdown instruction")
			return nil
		}

		t.Reset(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			l.stop(ctx, nil, "context cancelled")
			return nil
		case <-t.C:
		}
	}
}

// stop flushes contents in destination order, then disconnects.
func (l *Loop) stop(ctx context.Context, contents []string, reason string) {
	if ctx.Err() == nil {
		for i, c := range contents {
			if c == "" {
				continue
			}
			l.dispatch(ctx, KindFlush, i, c)
		}
	}
	l.setState(StateDraining)

	if n := l.queue.Len(); n > 0 {
		l.log.Warn("instructions left undelivered at shutdown", logx.Int("count", n))
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.TerminateTimeout)
	if err := l.backend.Terminate(tctx); err != nil {
		l.log.Warn("backend terminate failed", logx.Err(err))
	}
	cancel()

	l.setState(StateStopped)
	l.log.Info("delivery loop stopped", logx.String("reason", reason))
}

func (l *Loop) recoverAll(ctx context.Context) {
	rec := NewRecovery(l.backend, l.cfg.BatchSize, l.log)
	for i, d := range l.cfg.Destinations {
		if !d.HasSource() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		idx := i
		res, err := rec.Run(ctx, d, func(c context.Context, content string) error {
			return l.dispatch(c, KindRecovery, idx, content)
		})
		if err != nil {
			l.log.Warn("recovery skipped", logx.String("dest", d.Name), logx.Err(err))
			continue
		}
		if res.Fetched > 0 {
			l.log.Info("recovery done",
				logx.String("dest", d.Name),
				logx.Int("messages", res.Fetched),
				logx.Int("lines", res.Lines),
				logx.Int("batches", res.Batches),
				logx.Int("failed", res.Failed),
				logx.Int("deleted", res.Deleted),
			)
		}
	}
}

// dispatch sends content to the destination's send target once.
// Failures are logged and published; the message is not retried.
func (l *Loop) dispatch(ctx context.Context, kind string, idx int, content string) error {
	ev := DeliveryEvent{
		Kind:        kind,
		Destination: idx,
		Lines:       strings.Count(content, LineSeparator) + 1,
		Bytes:       len(content),
		At:          time.Now(),
	}

	var err error
	if idx < 0 || idx >= len(l.cfg.Destinations) {
		err = ErrUnknownDestination
	} else {
		d := l.cfg.Destinations[idx]
		ev.Name = d.Name
		ev.Target = d.Send
		err = l.backend.Dispatch(ctx, d.Send, content)
	}
	ev.Took = time.Since(ev.At)

	if err != nil {
		ev.Error = err.Error()
		ev.Content = content
		l.log.Warn("dispatch failed; batch dropped",
			logx.String("kind", kind),
			logx.Int("dest", idx),
			logx.String("name", ev.Name),
			logx.Int("lines", ev.Lines),
			logx.Err(err),
		)
		l.publish(EventFailed, ev)
		return err
	}
	l.log.Debug("dispatched",
		logx.String("kind", kind),
		logx.String("name", ev.Name),
		logx.Int("lines", ev.Lines),
		logx.Duration("took", ev.Took),
	)
	l.publish(EventSent, ev)
	return nil
}

func (l *Loop) publish(typ string, ev DeliveryEvent) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
