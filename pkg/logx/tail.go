package logx

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const defaultTailSize = 20

// Entry is one remembered warning or error.
type Entry struct {
	At      time.Time
	Level   Level
	Message string
	Err     string
}

func (e Entry) String() string {
	if e.Err == "" {
		return e.Message
	}
	return e.Message + ": " + e.Err
}

// Tail is a sink that keeps the last warnings and errors in memory, so a
// full-screen UI can show them while console output is muted.
type Tail struct {
	mu   sync.Mutex
	ring []Entry
	next int
	full bool
}

var _ zerolog.LevelWriter = (*Tail)(nil)

func NewTail(size int) *Tail {
	if size <= 0 {
		size = defaultTailSize
	}
	return &Tail{ring: make([]Entry, size)}
}

func (t *Tail) Write(p []byte) (int, error) { return len(p), nil }

func (t *Tail) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return len(p), nil
	}
	var ev map[string]any
	_ = json.Unmarshal(p, &ev)
	msg, _ := ev[zerolog.MessageFieldName].(string)
	errText, _ := ev[zerolog.ErrorFieldName].(string)

	t.mu.Lock()
	t.ring[t.next] = Entry{At: time.Now(), Level: level, Message: msg, Err: errText}
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()
	return len(p), nil
}

// Last returns the newest entry, if any.
func (t *Tail) Last() (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full && t.next == 0 {
		return Entry{}, false
	}
	return t.ring[(t.next-1+len(t.ring))%len(t.ring)], true
}

// Entries returns the kept entries, oldest first.
func (t *Tail) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]Entry(nil), t.ring[:t.next]...)
	}
	out := make([]Entry, 0, len(t.ring))
	out = append(out, t.ring[t.next:]...)
	return append(out, t.ring[:t.next]...)
}
