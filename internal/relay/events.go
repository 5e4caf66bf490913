package relay

import (
	"time"

	kit "cliprelay/internal/transport"
)

// Event types published on the bus.
const (
	EventState  = "relay.state"
	EventSent   = "relay.sent"
	EventFailed = "relay.failed"
)

// Delivery kinds.
const (
	KindSend     = "send"
	KindFlush    = "flush"
	KindRecovery = "recovery"
)

// DeliveryEvent describes one dispatch attempt.
// Content is only set when the dispatch failed, so the batch can be re-sent by hand.
type DeliveryEvent struct {
	Kind        string         `json:"kind"`
	Destination int            `json:"destination"`
	Name        string         `json:"name"`
	Target      kit.ChatTarget `json:"target"`
	Lines       int            `json:"lines"`
	Bytes       int            `json:"bytes"`
	At          time.Time      `json:"at"`
	Took        time.Duration  `json:"took"`
	Error       string         `json:"error,omitempty"`
	Content     string         `json:"content,omitempty"`
}

func (e DeliveryEvent) OK() bool { return e.Error == "" }

// StateEvent is published on every Loop state transition.
type StateEvent struct {
	From State `json:"from"`
	To   State `json:"to"`
}
