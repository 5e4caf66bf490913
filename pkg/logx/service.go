package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

const (
	defaultLogPath = "./cliprelay.log"
	timeFormat     = "2006-01-02T15:04:05.000Z07:00"
)

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.ErrorFieldName = "err"
		zerolog.TimeFieldFormat = timeFormat
	})
}

// Service owns the log sinks. Loggers taken from it follow every Apply.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	muted  bool
	file   *os.File
	tail   *Tail
	active atomic.Pointer[zerolog.Logger]
}

// New applies cfg and returns the service with its root Logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{tail: NewTail(defaultTailSize)}
	s.Apply(cfg)
	return s, Logger{src: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.active.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Tail holds the latest warnings and errors regardless of sinks.
func (s *Service) Tail() *Tail { return s.tail }

// MuteConsole drops the console sink while something else draws on the
// terminal. File output and the tail continue.
func (s *Service) MuteConsole(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
	s.rebuild()
}

// Apply replaces level and sinks. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.rebuild()
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// rebuild must run with mu held.
func (s *Service) rebuild() {
	sinks := []io.Writer{s.tail}

	console := s.cfg.Console
	if !s.cfg.Console && !s.cfg.File.Enabled {
		// nothing configured: keep the console so errors are not lost
		console = true
	}
	if console && !s.muted {
		sinks = append(sinks, consoleWriter(os.Stderr))
	}

	if s.cfg.File.Enabled {
		path := strings.TrimSpace(s.cfg.File.Path)
		if path == "" {
			path = defaultLogPath
		}
		if s.file == nil || s.file.Name() != path {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				fmt.Fprintf(os.Stderr, "logx: open %s: %v\n", path, err)
			} else {
				if s.file != nil {
					_ = s.file.Close()
				}
				s.file = f
			}
		}
	} else if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if s.file != nil {
		sinks = append(sinks, zerolog.SyncWriter(s.file))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(sinks...)).
		Level(parseLevel(s.cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.active.Store(&zl)
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog names plus "warning".
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}
