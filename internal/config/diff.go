package config

import (
	"reflect"
	"sort"
	"strings"

	logx "cliprelay/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists every changed top-level section, sorted.
	Sections []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	// Attrs are safe log fields; tokens are never included.
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares oldCfg and newCfg. Logging and the
// telegram send rate apply live; every other section needs a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, live bool) {
		ch.Sections = append(ch.Sections, section)
		if !live {
			ch.Restart = append(ch.Restart, section)
		}
	}

	if !strings.EqualFold(strings.TrimSpace(oldCfg.Backend), strings.TrimSpace(newCfg.Backend)) {
		mark("backend", false)
		ch.Attrs = append(ch.Attrs, logx.String("backend", newCfg.Backend))
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.RatePerSec != nt.RatePerSec || ot.Burst != nt.Burst {
		mark("telegram.rate", true)
		ch.Attrs = append(ch.Attrs,
			logx.Any("telegram.rate_per_sec", nt.RatePerSec),
			logx.Int("telegram.burst", nt.Burst),
		)
	}
	if strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token) ||
		strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL) ||
		strings.TrimSpace(ot.SendTimeout) != strings.TrimSpace(nt.SendTimeout) ||
		strings.TrimSpace(ot.BacklogPath) != strings.TrimSpace(nt.BacklogPath) {
		mark("telegram", false)
		ch.Attrs = append(ch.Attrs,
			logx.Bool("telegram.token_changed", strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)),
			logx.String("telegram.send_timeout", strings.TrimSpace(nt.SendTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Destinations, newCfg.Destinations) {
		mark("destinations", false)
		ch.Attrs = append(ch.Attrs, logx.Int("destinations.count", len(newCfg.Destinations)))
	}

	if oldCfg.Relay != newCfg.Relay {
		mark("relay", false)
		ch.Attrs = append(ch.Attrs,
			logx.Int("relay.queue_size", newCfg.Relay.QueueSize),
			logx.String("relay.poll_interval", newCfg.Relay.PollInterval),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		mark("logging", true)
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if storageKey(oldCfg.Storage) != storageKey(newCfg.Storage) {
		mark("storage", false)
		ch.Attrs = append(ch.Attrs, logx.String("storage", storageKey(newCfg.Storage)))
	}

	if scheduleOf(oldCfg.Report) != scheduleOf(newCfg.Report) {
		mark("report", false)
		ch.Attrs = append(ch.Attrs, logx.String("report.schedule", scheduleOf(newCfg.Report)))
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.Restart)
	return ch
}

func storageKey(sc *StorageConfig) string {
	if sc == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(sc.Driver)) + ":" + strings.TrimSpace(sc.Path) + ":" + strings.TrimSpace(sc.BusyTimeout)
}

func scheduleOf(rc ReportConfig) string {
	if rc.Schedule == nil {
		return DefaultReportSchedule
	}
	return strings.TrimSpace(*rc.Schedule)
}
