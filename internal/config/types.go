package config

// Config is the on-disk configuration. JSON and YAML files decode into the
// same struct; unknown keys are rejected.
type Config struct {
	// Backend selects the chat backend: "telegram" (default) or "console".
	Backend  string         `json:"backend,omitempty" yaml:"backend,omitempty"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`

	// Destinations are addressed by their position in this list.
	Destinations []DestinationConfig `json:"destinations" yaml:"destinations"`

	Relay   RelayConfig    `json:"relay" yaml:"relay"`
	Logging LoggingConfig  `json:"logging" yaml:"logging"`
	Storage *StorageConfig `json:"storage,omitempty" yaml:"storage,omitempty"`
	Report  ReportConfig   `json:"report" yaml:"report"`
}

// TelegramConfig configures the Telegram backend.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
//
// Defaults:
//   - rate_per_sec: 1
//   - burst: 3
//   - send_timeout: "10s"
//
// If token is empty, CLIPRELAY_TELEGRAM_TOKEN is used.
type TelegramConfig struct {
	Token       string  `json:"token" yaml:"token"`
	RatePerSec  float64 `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	Burst       int     `json:"burst,omitempty" yaml:"burst,omitempty"`
	SendTimeout string  `json:"send_timeout,omitempty" yaml:"send_timeout,omitempty"`
	// APIURL overrides the Bot API endpoint (self-hosted API servers).
	APIURL string `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	// BacklogPath is where source messages read at startup are kept until
	// they have been relayed. Default "./cliprelay.backlog.json".
	BacklogPath string `json:"backlog_path,omitempty" yaml:"backlog_path,omitempty"`
}

type TargetConfig struct {
	ChatID   int64 `json:"chat_id" yaml:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
}

// DestinationConfig names one relay destination. Source is optional; when
// set, content left there while the relay was down is replayed on start.
type DestinationConfig struct {
	Name   string        `json:"name" yaml:"name"`
	Send   TargetConfig  `json:"send" yaml:"send"`
	Source *TargetConfig `json:"source,omitempty" yaml:"source,omitempty"`
}

// RelayConfig controls the delivery queue and loop.
//
// Defaults:
//   - queue_size: 100
//   - poll_interval: "1s"
//   - shutdown_timeout: "30s"
type RelayConfig struct {
	QueueSize       int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty" yaml:"shutdown_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// StorageConfig controls the delivery journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cliprelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	Path        string `json:"path" yaml:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ReportConfig controls the periodic status report.
//
// Schedule is a pointer so an omitted key (default "@every 10m") can be told
// apart from an explicit "" (disabled).
type ReportConfig struct {
	Schedule *string `json:"schedule,omitempty" yaml:"schedule,omitempty"`
}
