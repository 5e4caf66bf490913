package transport

import (
	"context"
	"errors"
	"strconv"
)

// ErrTerminated is returned by backends once Terminate has been called.
var ErrTerminated = errors.New("backend connection terminated")

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

func (t ChatTarget) String() string {
	s := strconv.FormatInt(t.ChatID, 10)
	if t.ThreadID != 0 {
		s += "/" + strconv.Itoa(t.ThreadID)
	}
	return s
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// HistoryMessage is one message found at a source target.
type HistoryMessage struct {
	Ref  MessageRef
	Text string
}

// Backend is the remote chat service the relay delivers to.
//
// Start must invoke ready once the backend can serve FetchHistory and
// Dispatch. Implementations may call ready more than once; callers are
// expected to guard against that.
type Backend interface {
	Start(ctx context.Context, ready func()) error

	Dispatch(ctx context.Context, to ChatTarget, content string) error
	// FetchHistory returns messages left at source that have not been
	// relayed yet. A message not passed to Delete before Terminate is
	// offered again by the next run's FetchHistory.
	FetchHistory(ctx context.Context, source ChatTarget) ([]HistoryMessage, error)
	// Delete is called only after the message's content was delivered.
	Delete(ctx context.Context, ref MessageRef) error
	Terminate(ctx context.Context) error
}
