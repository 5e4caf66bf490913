package storage

import (
	"errors"
	"time"
)

// ErrClosed is returned by a journal used after Close.
var ErrClosed = errors.New("delivery journal closed")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryEntry records one dispatch attempt.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At          time.Time `json:"at"`
	Kind        string    `json:"kind"` // send, flush or recovery
	Destination int       `json:"dest"`
	Name        string    `json:"name"`
	ChatID      int64     `json:"chat_id"`
	ThreadID    int       `json:"thread_id,omitempty"`
	Lines       int       `json:"lines"`
	Bytes       int       `json:"bytes"`
	OK          bool      `json:"ok"`
	Error       string    `json:"err,omitempty"`
	TookMS      int64     `json:"took_ms"`
	// Content is kept only for failed dispatches so lost batches can be
	// re-sent by hand.
	Content string `json:"content,omitempty"`
}

func (e *DeliveryEntry) stamp() {
	if e.At.IsZero() {
		e.At = time.Now()
	}
}
