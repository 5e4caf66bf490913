// Package capture holds the surfaces that feed text into the relay: an
// interactive console window and a line reader for standard input.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cliprelay/internal/relay"
	logx "cliprelay/pkg/logx"
)

// Paster is the producer side of the relay.
type Paster interface {
	Paste(ctx context.Context, dest int, text string) (relay.PasteResult, error)
	Close(ctx context.Context) error
}

// ResolveDestination maps a destination name or 1-based number to its index.
// An empty want selects the first destination.
func ResolveDestination(names []string, want string) (int, error) {
	want = strings.TrimSpace(want)
	if len(names) == 0 {
		return 0, errors.New("no destinations configured")
	}
	if want == "" {
		return 0, nil
	}
	for i, n := range names {
		if strings.EqualFold(n, want) {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(want); err == nil && n >= 1 && n <= len(names) {
		return n - 1, nil
	}
	return 0, fmt.Errorf("unknown destination %q (have %s)", want, strings.Join(names, ", "))
}

// Finish closes the producer, which flushes every partial batch and closes
// the queue, then waits for the delivery loop to stop. Both steps share one
// timeout.
func Finish(ctx context.Context, p Paster, done <-chan struct{}, timeout time.Duration, log logx.Logger) error {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	if err := p.Close(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	select {
	case <-done:
		log.Info("relay drained", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for delivery loop: %w", ctx.Err())
	}
}
