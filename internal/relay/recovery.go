package relay

import (
	"context"
	"fmt"
	"strings"

	kit "cliprelay/internal/transport"
	logx "cliprelay/pkg/logx"
)

// Recovery replays content left at a destination's source target while no
// relay was running, then clears the source.
type Recovery struct {
	backend   kit.Backend
	batchSize int
	log       logx.Logger
}

// RecoveryResult summarizes one destination's recovery.
type RecoveryResult struct {
	Fetched int // messages found at the source
	Lines   int // non-empty lines extracted
	Batches int // batches dispatched successfully
	Failed  int // batches that failed to dispatch
	Deleted int // source messages deleted
}

func NewRecovery(backend kit.Backend, batchSize int, log logx.Logger) *Recovery {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recovery{backend: backend, batchSize: batchSize, log: log}
}

// Run recovers one destination. send delivers a batch to the destination's
// send target.
//
// Originals are deleted only after every batch was dispatched; if any batch
// failed they stay at the source for the next start.
func (r *Recovery) Run(ctx context.Context, dest Destination, send func(ctx context.Context, content string) error) (RecoveryResult, error) {
	var res RecoveryResult
	if !dest.HasSource() {
		return res, nil
	}

	msgs, err := r.backend.FetchHistory(ctx, dest.Source)
	if err != nil {
		return res, fmt.Errorf("fetch history %s: %w", dest.Source, err)
	}
	res.Fetched = len(msgs)
	if len(msgs) == 0 {
		return res, nil
	}

	var lines []string
	for _, m := range msgs {
		for _, line := range SplitLines(m.Text) {
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	res.Lines = len(lines)

	for _, group := range chunk(lines, r.batchSize) {
		if err := send(ctx, strings.Join(group, LineSeparator)); err != nil {
			res.Failed++
			continue
		}
		res.Batches++
	}

	if res.Failed > 0 {
		r.log.Warn("recovery incomplete; leaving source messages in place",
			logx.String("dest", dest.Name),
			logx.Int("failed_batches", res.Failed),
			logx.Int("messages", res.Fetched),
		)
		return res, nil
	}

	for _, m := range msgs {
		if err := r.backend.Delete(ctx, m.Ref); err != nil {
			r.log.Warn("recovery delete failed; message may be replayed on next start",
				logx.String("dest", dest.Name),
				logx.Int("message_id", m.Ref.MessageID),
				logx.Err(err),
			)
			continue
		}
		res.Deleted++
	}
	return res, nil
}
