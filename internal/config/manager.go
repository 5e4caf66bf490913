package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "cliprelay/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	validateTimeout = 5 * time.Second
	rewatchMin      = 250 * time.Millisecond
	rewatchMax      = 5 * time.Second
)

type loaded struct {
	cfg *Config
	sum [sha256.Size]byte
}

// ConfigManager owns the current config and republishes it when the file
// changes on disk.
type ConfigManager struct {
	path string
	cur  atomic.Pointer[loaded]

	// mu is held while publishing so Unsubscribe never closes a channel
	// that is being written to.
	mu   sync.Mutex
	subs map[chan *Config]struct{}

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path: path,
		subs: make(map[chan *Config]struct{}),
		log:  logx.Nop(),
	}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// SetValidator installs the check every load and reload must pass.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

func (m *ConfigManager) read() (*loaded, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(m.path, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	return &loaded{cfg: cfg, sum: sha256.Sum256(raw)}, nil
}

func (m *ConfigManager) validate(ctx context.Context, cfg *Config) error {
	if m.validator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()
	if err := m.validator(ctx, cfg); err != nil {
		return fmt.Errorf("%s: %w", m.path, err)
	}
	return nil
}

// Load reads, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	l, err := m.read()
	if err != nil {
		return nil, err
	}
	if err := m.validate(context.Background(), l.cfg); err != nil {
		return nil, err
	}
	m.cur.Store(l)
	return l.cfg, nil
}

// Get returns the last committed config, nil before Load.
func (m *ConfigManager) Get() *Config {
	if l := m.cur.Load(); l != nil {
		return l.cfg
	}
	return nil
}

// Subscribe returns a channel that receives every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish never blocks. A subscriber with a full buffer has its oldest
// pending config replaced so the newest one always lands.
func (m *ConfigManager) publish(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		if !offerLatest(ch, cfg) {
			m.log.Debug("config update dropped (subscriber slow)")
		}
	}
}

func offerLatest(ch chan *Config, cfg *Config) bool {
	for i := 0; i < 2; i++ {
		select {
		case ch <- cfg:
			return true
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	return false
}

func (m *ConfigManager) reload(ctx context.Context) {
	l, err := m.read()
	if err != nil {
		m.log.Warn("config unreadable; keeping current config", logx.Err(err))
		return
	}
	if prev := m.cur.Load(); prev != nil && prev.sum == l.sum {
		m.log.Debug("config file unchanged")
		return
	}
	if err := m.validate(ctx, l.cfg); err != nil {
		m.log.Warn("config rejected; keeping current config", logx.Err(err))
		return
	}
	m.cur.Store(l)
	m.publish(l.cfg)
	m.log.Debug("config published", logx.String("sha256", fmt.Sprintf("%x", l.sum[:6])))
}

// Watch follows the config file until ctx ends and commits every valid
// edit. The parent directory is watched so editors that replace the file
// are seen too. A watcher that breaks is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	wait := rewatchMin
	for {
		broken, err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			m.log.Warn("config watcher unavailable", logx.Err(err), logx.Duration("retry_in", wait))
		} else if broken {
			m.log.Warn("config watcher stopped", logx.Duration("retry_in", wait))
			wait = rewatchMin
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, rewatchMax)
	}
}

// watchOnce runs one fsnotify watcher. broken reports that its channels
// closed before ctx ended.
func (m *ConfigManager) watchOnce(ctx context.Context) (broken bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return false, err
	}
	base := filepath.Base(m.path)
	m.log.Debug("config watcher started", logx.String("path", m.path))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-debounce.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return true, nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), base) {
				debounce.Reset(reloadDebounce)
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, nil
			}
			if werr == fsnotify.ErrEventOverflow {
				m.log.Warn("config watch overflow; rereading")
				debounce.Reset(reloadDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(werr))
		}
	}
}
