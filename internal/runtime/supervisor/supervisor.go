// Package supervisor runs named goroutines under one cancellable context,
// turning panics into errors and optionally restarting failed work.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "cliprelay/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg      sync.WaitGroup
	errMu   sync.Mutex
	err     error
	waitMu  sync.Mutex
	waiting chan struct{}

	started  atomic.Uint64
	active   atomic.Int64
	restarts atomic.Uint64
}

type SupervisorOption func(*Supervisor)

func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first goroutine error.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	s := &Supervisor{}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first error any goroutine returned, nil if none did.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// Counters are operational signals, not synchronization.
type Counters struct {
	Active   int64
	Started  uint64
	Restarts uint64
}

func (s *Supervisor) Counters() Counters {
	if s == nil {
		return Counters{}
	}
	return Counters{
		Active:   s.active.Load(),
		Started:  s.started.Load(),
		Restarts: s.restarts.Load(),
	}
}

// guard calls fn and converts a panic into an error.
func (s *Supervisor) guard(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Go runs fn on its own goroutine. A returned error other than
// context.Canceled is recorded as "<name>: <err>".
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		s.log.Debug("goroutine started", logx.String("name", name))
		err := s.guard(s.ctx, name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name), logx.Err(err))
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max time.Duration
	limit    int // 0 means no limit
}

// WithRestartBackoff sets the first and the largest delay between runs.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n failed restarts. The first run is not
// counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// GoRestart runs fn until it returns nil or the context ends. Failures and
// panics are retried with doubling, jittered backoff.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.Go(name, func(ctx context.Context) error {
		delay := p.min
		for attempt := 0; ; attempt++ {
			err := s.guard(ctx, name, fn)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			if p.limit > 0 && attempt >= p.limit {
				s.log.Error("giving up", logx.String("name", name), logx.Int("restarts", attempt), logx.Err(err))
				return err
			}

			wait := delay + jitter(delay)
			s.log.Warn("restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			s.restarts.Add(1)
			delay = min(delay*2, p.max)
		}
	})
}

// jitter returns up to 20% of d.
func jitter(d time.Duration) time.Duration {
	span := int64(d) / 5
	if span <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % (span + 1))
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine returned or ctx ends, and returns Err.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitMu.Lock()
	if s.waiting == nil {
		s.waiting = make(chan struct{})
		go func(ch chan struct{}) {
			s.wg.Wait()
			close(ch)
		}(s.waiting)
	}
	ch := s.waiting
	s.waitMu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return s.Err()
	}
}
