package relay

import (
	"context"
	"errors"
	"sync"

	kit "cliprelay/internal/transport"
)

type dispatched struct {
	To      kit.ChatTarget
	Content string
}

// fakeBackend records calls and serves canned history per source chat.
type fakeBackend struct {
	mu         sync.Mutex
	sent       []dispatched
	history    map[int64][]kit.HistoryMessage
	deleted    []kit.MessageRef
	terminated int

	failSend   func(content string) bool
	failDelete func(ref kit.MessageRef) bool
	fetchErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{history: map[int64][]kit.HistoryMessage{}}
}

func (f *fakeBackend) Start(ctx context.Context, ready func()) error {
	ready()
	return nil
}

func (f *fakeBackend) Dispatch(ctx context.Context, to kit.ChatTarget, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil && f.failSend(content) {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, dispatched{To: to, Content: content})
	return nil
}

func (f *fakeBackend) FetchHistory(ctx context.Context, source kit.ChatTarget) ([]kit.HistoryMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]kit.HistoryMessage(nil), f.history[source.ChatID]...), nil
}

func (f *fakeBackend) Delete(ctx context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil && f.failDelete(ref) {
		return errors.New("delete failed")
	}
	f.deleted = append(f.deleted, ref)
	msgs := f.history[ref.ChatID]
	for i, m := range msgs {
		if m.Ref.MessageID == ref.MessageID {
			f.history[ref.ChatID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) Terminate(ctx context.Context) error {
	f.mu.Lock()
	f.terminated++
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Sent() []dispatched {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatched(nil), f.sent...)
}

func (f *fakeBackend) Deleted() []kit.MessageRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kit.MessageRef(nil), f.deleted...)
}

func (f *fakeBackend) Terminated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}
