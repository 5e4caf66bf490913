package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultQueueSize       = 100
	DefaultPollInterval    = time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultSendTimeout     = 10 * time.Second
	DefaultRatePerSec      = 1.0
	DefaultBurst           = 3
	DefaultReportSchedule  = "@every 10m"
	DefaultBusyTimeout     = time.Second
	DefaultBacklogPath     = "./cliprelay.backlog.json"

	TokenEnv = "CLIPRELAY_TELEGRAM_TOKEN"
)

// Settings is a validated Config with defaults applied and durations parsed.
type Settings struct {
	Backend string

	Token       string
	APIURL      string
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
	BacklogPath string

	Destinations []DestinationConfig

	QueueSize       int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration

	StorageDriver string // "" when the journal is disabled
	StoragePath   string
	BusyTimeout   time.Duration

	ReportSchedule string // "" when the report is disabled
}

// Validate reports the first problem in cfg.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}

// ValidateHook adapts Validate to ConfigManager.SetValidator.
func ValidateHook(_ context.Context, cfg *Config) error { return Validate(cfg) }

// Resolve validates cfg and returns the effective settings.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	s := &Settings{}

	s.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch s.Backend {
	case "":
		s.Backend = "telegram"
	case "telegram", "console":
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", cfg.Backend)
	}

	s.Token = strings.TrimSpace(cfg.Telegram.Token)
	if s.Token == "" {
		s.Token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
	if s.Backend == "telegram" && s.Token == "" {
		return nil, fmt.Errorf("telegram.token is required (or set %s)", TokenEnv)
	}
	s.APIURL = strings.TrimSpace(cfg.Telegram.APIURL)
	s.BacklogPath = strings.TrimSpace(cfg.Telegram.BacklogPath)
	if s.BacklogPath == "" {
		s.BacklogPath = DefaultBacklogPath
	}
	if cfg.Telegram.RatePerSec < 0 {
		return nil, errors.New("telegram.rate_per_sec must be >= 0")
	}
	s.RatePerSec = cfg.Telegram.RatePerSec
	if s.RatePerSec == 0 {
		s.RatePerSec = DefaultRatePerSec
	}
	if cfg.Telegram.Burst < 0 {
		return nil, errors.New("telegram.burst must be >= 0")
	}
	s.Burst = cfg.Telegram.Burst
	if s.Burst == 0 {
		s.Burst = DefaultBurst
	}
	var err error
	if s.SendTimeout, err = durationOr("telegram.send_timeout", cfg.Telegram.SendTimeout, DefaultSendTimeout); err != nil {
		return nil, err
	}

	if err := validateDestinations(cfg.Destinations); err != nil {
		return nil, err
	}
	s.Destinations = cfg.Destinations

	if cfg.Relay.QueueSize < 0 {
		return nil, errors.New("relay.queue_size must be >= 1")
	}
	s.QueueSize = cfg.Relay.QueueSize
	if s.QueueSize == 0 {
		s.QueueSize = DefaultQueueSize
	}
	if s.PollInterval, err = durationOr("relay.poll_interval", cfg.Relay.PollInterval, DefaultPollInterval); err != nil {
		return nil, err
	}
	if s.ShutdownTimeout, err = durationOr("relay.shutdown_timeout", cfg.Relay.ShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return nil, err
	}

	if err := resolveStorage(cfg.Storage, s); err != nil {
		return nil, err
	}

	s.ReportSchedule = DefaultReportSchedule
	if cfg.Report.Schedule != nil {
		s.ReportSchedule = strings.TrimSpace(*cfg.Report.Schedule)
	}
	if s.ReportSchedule != "" {
		if _, err := cron.ParseStandard(s.ReportSchedule); err != nil {
			return nil, fmt.Errorf("report.schedule: %w", err)
		}
	}
	return s, nil
}

func validateDestinations(ds []DestinationConfig) error {
	if len(ds) == 0 {
		return errors.New("destinations: at least one destination is required")
	}
	seen := make(map[string]int, len(ds))
	for i, d := range ds {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return fmt.Errorf("destinations[%d].name is required", i)
		}
		if j, dup := seen[strings.ToLower(name)]; dup {
			return fmt.Errorf("destinations[%d].name %q duplicates destinations[%d]", i, name, j)
		}
		seen[strings.ToLower(name)] = i
		if d.Send.ChatID == 0 {
			return fmt.Errorf("destinations[%d] (%s): send.chat_id is required", i, name)
		}
		if d.Send.ThreadID < 0 {
			return fmt.Errorf("destinations[%d] (%s): send.thread_id must be >= 0", i, name)
		}
		if d.Source != nil {
			if d.Source.ChatID == 0 {
				return fmt.Errorf("destinations[%d] (%s): source.chat_id is required when source is set", i, name)
			}
			if *d.Source == d.Send {
				return fmt.Errorf("destinations[%d] (%s): source must differ from send", i, name)
			}
		}
	}
	return nil
}

func resolveStorage(sc *StorageConfig, s *Settings) error {
	if sc == nil {
		return nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none":
		return nil
	case "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", sc.Driver)
	}
	if path == "" {
		return fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := durationOr("storage.busy_timeout", sc.BusyTimeout, DefaultBusyTimeout)
	if err != nil {
		return err
	}
	if driver == "sqlite3" {
		driver = "sqlite"
	}
	s.StorageDriver = driver
	s.StoragePath = path
	s.BusyTimeout = busy
	return nil
}

// durationOr parses a Go duration string for field. Empty or zero yields def.
func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	case d == 0:
		return def, nil
	}
	return d, nil
}
