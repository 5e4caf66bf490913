package app

import (
	"strings"

	"cliprelay/internal/config"
	"cliprelay/internal/relay"
	"cliprelay/internal/storage"
	kit "cliprelay/internal/transport"
	"cliprelay/internal/transport/telegram"
	logx "cliprelay/pkg/logx"
)

func mapLogging(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
	}
}

func mapTarget(tc config.TargetConfig) kit.ChatTarget {
	return kit.ChatTarget{ChatID: tc.ChatID, ThreadID: tc.ThreadID}
}

// mapDestinations keeps config order; a destination's index is its position.
func mapDestinations(ds []config.DestinationConfig) []relay.Destination {
	out := make([]relay.Destination, 0, len(ds))
	for _, d := range ds {
		rd := relay.Destination{Name: strings.TrimSpace(d.Name), Send: mapTarget(d.Send)}
		if d.Source != nil {
			rd.Source = mapTarget(*d.Source)
		}
		out = append(out, rd)
	}
	return out
}

func mapTelegram(s *config.Settings, dests []relay.Destination) telegram.Config {
	tc := telegram.Config{
		Token:       s.Token,
		APIURL:      s.APIURL,
		RatePerSec:  s.RatePerSec,
		Burst:       s.Burst,
		SendTimeout: s.SendTimeout,
		BacklogPath: s.BacklogPath,
	}
	for _, d := range dests {
		if d.HasSource() {
			tc.Sources = append(tc.Sources, d.Source)
		}
	}
	return tc
}

// mapStorageConfig reports whether the journal is enabled.
func mapStorageConfig(s *config.Settings) (storage.Config, bool) {
	if s == nil || s.StorageDriver == "" {
		return storage.Config{}, false
	}
	return storage.Config{
		Driver:      s.StorageDriver,
		Path:        s.StoragePath,
		BusyTimeout: s.BusyTimeout,
	}, true
}

func entryFromEvent(ev relay.DeliveryEvent) storage.DeliveryEntry {
	return storage.DeliveryEntry{
		At:          ev.At,
		Kind:        ev.Kind,
		Destination: ev.Destination,
		Name:        ev.Name,
		ChatID:      ev.Target.ChatID,
		ThreadID:    ev.Target.ThreadID,
		Lines:       ev.Lines,
		Bytes:       ev.Bytes,
		OK:          ev.OK(),
		Error:       ev.Error,
		TookMS:      ev.Took.Milliseconds(),
		Content:     ev.Content,
	}
}
