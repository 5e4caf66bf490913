// Package console is a log-only backend for dry runs.
package console

import (
	"context"
	"strings"
	"sync/atomic"

	kit "cliprelay/internal/transport"
	logx "cliprelay/pkg/logx"
)

// Backend logs every dispatch and never fails. It has no history.
type Backend struct {
	log        logx.Logger
	sent       atomic.Uint64
	terminated atomic.Bool
}

var _ kit.Backend = (*Backend)(nil)

func New(log logx.Logger) *Backend {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Backend{log: log}
}

func (b *Backend) Start(_ context.Context, ready func()) error {
	if b.terminated.Load() {
		return kit.ErrTerminated
	}
	b.log.Info("console backend ready")
	if ready != nil {
		ready()
	}
	return nil
}

func (b *Backend) Dispatch(_ context.Context, to kit.ChatTarget, content string) error {
	if b.terminated.Load() {
		return kit.ErrTerminated
	}
	n := b.sent.Add(1)
	b.log.Info("dispatch",
		logx.String("to", to.String()),
		logx.Uint64("seq", n),
		logx.Int("lines", strings.Count(content, "\n")+1),
		logx.String("content", content),
	)
	return nil
}

func (b *Backend) FetchHistory(context.Context, kit.ChatTarget) ([]kit.HistoryMessage, error) {
	return nil, nil
}

func (b *Backend) Delete(context.Context, kit.MessageRef) error { return nil }

func (b *Backend) Terminate(context.Context) error {
	if !b.terminated.Swap(true) {
		b.log.Info("console backend terminated", logx.Uint64("dispatched", b.sent.Load()))
	}
	return nil
}

// Sent reports how many dispatches were logged.
func (b *Backend) Sent() uint64 { return b.sent.Load() }
