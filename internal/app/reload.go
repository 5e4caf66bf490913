package app

import (
	"context"
	"strings"

	"cliprelay/internal/config"
	logx "cliprelay/pkg/logx"
)

// rateSetter is implemented by backends whose send rate can change live.
type rateSetter interface {
	SetRate(perSec float64, burst int)
}

// watchConfig applies published configs until ctx ends.
func (a *App) watchConfig(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the live parts of next and warns about the rest.
func (a *App) applyConfig(prev, next *config.Config) {
	ch := config.SummarizeConfigChange(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Debug("config change summary", fields...)

	if ch.Has("logging") && a.logs != nil {
		a.logs.Apply(mapLogging(next.Logging))
	}
	if ch.Has("telegram.rate") {
		if rs, ok := a.backend.(rateSetter); ok {
			s, err := config.Resolve(next)
			if err != nil {
				a.log.Warn("invalid rate config; keeping previous", logx.Err(err))
			} else {
				rs.SetRate(s.RatePerSec, s.Burst)
			}
		}
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.Restart, ",")))
	}
	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}
