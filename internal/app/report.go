package app

import (
	"github.com/robfig/cron/v3"

	logx "cliprelay/pkg/logx"
)

// reportParser accepts the same specs config validation does.
var reportParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// startReport schedules the periodic status line. A nil cron means the
// report is disabled.
func (a *App) startReport(schedule string) (*cron.Cron, error) {
	if schedule == "" {
		return nil, nil
	}
	c := cron.New(cron.WithParser(reportParser), cron.WithChain(cron.Recover(cronLogger{a.log}), cron.SkipIfStillRunning(cronLogger{a.log})))
	if _, err := c.AddFunc(schedule, a.report); err != nil {
		return nil, err
	}
	c.Start()
	a.log.Debug("status report scheduled", logx.String("schedule", schedule))
	return c, nil
}

// report logs queue depth, loop state and delivery counters.
func (a *App) report() {
	snap := a.stats.Snapshot()
	pending := 0
	for _, n := range a.producer.Pending() {
		pending += n
	}
	fields := append([]logx.Field{
		logx.Int("queue", a.queue.Len()),
		logx.Int("queue_cap", a.queue.Cap()),
		logx.String("state", a.loop.State().String()),
		logx.Int("pending_lines", pending),
	}, snap.fields()...)
	if snap.JournalErrs > 0 {
		fields = append(fields, logx.Uint64("journal_errors", snap.JournalErrs))
	}
	if c := a.sup.Counters(); c.Restarts > 0 {
		fields = append(fields, logx.Uint64("restarts", c.Restarts))
	}
	if a.bus != nil {
		if d := a.bus.Dropped(); d > 0 {
			fields = append(fields, logx.Uint64("bus_dropped", d))
		}
	}
	a.log.Info("relay status", fields...)
	_, _ = a.notify.Status("%s, queue %d/%d, sent %d, failed %d",
		a.loop.State(), a.queue.Len(), a.queue.Cap(), snap.Sent, snap.Failed)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Warn("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
