package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"cliprelay/internal/eventbus"
	rtsup "cliprelay/internal/runtime/supervisor"
	kit "cliprelay/internal/transport"
	logx "cliprelay/pkg/logx"
)

func testDestinations() []Destination {
	return []Destination{
		{Name: "alpha", Send: kit.ChatTarget{ChatID: 100}, Source: kit.ChatTarget{ChatID: 900}},
		{Name: "beta", Send: kit.ChatTarget{ChatID: 200}},
	}
}

func newTestLoop(t *testing.T, q *Queue, be *fakeBackend, bus eventbus.Bus) (*Loop, *rtsup.Supervisor) {
	t.Helper()
	l := NewLoop(LoopConfig{
		Destinations: testDestinations(),
		PollInterval: time.Millisecond,
	}, q, be, logx.Nop(), bus)
	sup := rtsup.NewSupervisor(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sup.Stop(ctx)
	})
	return l, sup
}

func waitDone(t *testing.T, l *Loop) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop (state=%s)", l.State())
	}
}

func TestLoopDeliversInFIFOOrderThenQuits(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	l, sup := newTestLoop(t, q, be, nil)

	ctx := context.Background()
	_ = q.Enqueue(ctx, Send{Content: "x", Destination: 0})
	_ = q.Enqueue(ctx, Send{Content: "y", Destination: 1})
	_ = q.Enqueue(ctx, SendAndQuit{Contents: []string{"tail-a", ""}})

	if !l.Ready(sup) {
		t.Fatalf("first Ready should start the loop")
	}
	waitDone(t, l)

	got := be.Sent()
	want := []dispatched{
		{To: kit.ChatTarget{ChatID: 100}, Content: "x"},
		{To: kit.ChatTarget{ChatID: 200}, Content: "y"},
		{To: kit.ChatTarget{ChatID: 100}, Content: "tail-a"},
	}
	if len(got) != len(want) {
		t.Fatalf("sent = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if be.Terminated() != 1 {
		t.Fatalf("terminated %d times, want 1", be.Terminated())
	}
	if l.State() != StateStopped {
		t.Fatalf("state = %s", l.State())
	}
}

func TestLoopReadyIsOneShot(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	l, sup := newTestLoop(t, q, be, nil)

	if !l.Ready(sup) {
		t.Fatalf("first Ready should start")
	}
	if l.Ready(sup) {
		t.Fatalf("second Ready must be ignored")
	}
	q.Close()
	waitDone(t, l)
	if be.Terminated() != 1 {
		t.Fatalf("terminated %d times, want 1", be.Terminated())
	}
}

func TestLoopQueueClosedActsAsQuit(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	l, sup := newTestLoop(t, q, be, nil)

	_ = q.Enqueue(context.Background(), Send{Content: "before-close", Destination: 1})
	q.Close()
	l.Ready(sup)
	waitDone(t, l)

	if got := be.Sent(); len(got) != 1 || got[0].Content != "before-close" {
		t.Fatalf("sent = %+v", got)
	}
	if be.Terminated() != 1 {
		t.Fatalf("expected terminate on closed queue")
	}
}

func TestLoopSendFailureIsNotFatal(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	be.failSend = func(content string) bool { return content == "bad" }
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(8, EventFailed)
	defer unsub()
	l, sup := newTestLoop(t, q, be, bus)

	ctx := context.Background()
	_ = q.Enqueue(ctx, Send{Content: "bad", Destination: 0})
	_ = q.Enqueue(ctx, Send{Content: "good", Destination: 0})
	_ = q.Enqueue(ctx, SendAndQuit{Contents: []string{"", ""}})
	l.Ready(sup)
	waitDone(t, l)

	if got := be.Sent(); len(got) != 1 || got[0].Content != "good" {
		t.Fatalf("sent = %+v", got)
	}
	select {
	case e := <-failed:
		ev := e.Data.(DeliveryEvent)
		if ev.OK() || ev.Content != "bad" || ev.Name != "alpha" {
			t.Fatalf("failed event = %+v", ev)
		}
	default:
		t.Fatalf("expected a relay.failed event")
	}
}

func TestLoopStrandsInstructionsAfterQuit(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	l, sup := newTestLoop(t, q, be, nil)

	ctx := context.Background()
	_ = q.Enqueue(ctx, SendAndQuit{Contents: []string{"", "flush-b"}})
	_ = q.Enqueue(ctx, Send{Content: "late", Destination: 0})
	l.Ready(sup)
	waitDone(t, l)

	got := be.Sent()
	if len(got) != 1 || got[0].Content != "flush-b" {
		t.Fatalf("sent = %+v", got)
	}
	if err := q.Enqueue(ctx, Send{}); err == nil {
		t.Fatalf("enqueue after stop should fail")
	}
}

func TestLoopRecoversBeforePolling(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	be.history[900] = []kit.HistoryMessage{
		{Ref: kit.MessageRef{ChatID: 900, MessageID: 1}, Text: "p\nq"},
		{Ref: kit.MessageRef{ChatID: 900, MessageID: 2}, Text: "r"},
	}
	bus := eventbus.New()
	states, unsub := bus.Subscribe(16, EventState)
	defer unsub()
	l, sup := newTestLoop(t, q, be, bus)

	_ = q.Enqueue(context.Background(), Send{Content: "live", Destination: 0})
	q.Close()
	l.Ready(sup)
	waitDone(t, l)

	got := be.Sent()
	if len(got) != 2 || got[0].Content != "p\nq\nr" || got[1].Content != "live" {
		t.Fatalf("sent = %+v", got)
	}
	if len(be.Deleted()) != 2 {
		t.Fatalf("deleted = %+v", be.Deleted())
	}

	var seen []string
	for len(states) > 0 {
		seen = append(seen, (<-states).Data.(StateEvent).To.String())
	}
	if strings.Join(seen, ",") != "polling,draining,stopped" {
		t.Fatalf("state transitions = %v", seen)
	}
}

func TestLoopContextCancelStops(t *testing.T) {
	q := NewQueue(0)
	be := newFakeBackend()
	l := NewLoop(LoopConfig{Destinations: testDestinations(), PollInterval: time.Hour}, q, be, logx.Nop(), nil)
	sup := rtsup.NewSupervisor(context.Background())
	l.Ready(sup)

	deadline := time.Now().Add(time.Second)
	for l.State() != StatePolling && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	sup.Cancel()
	waitDone(t, l)
	if be.Terminated() != 1 {
		t.Fatalf("expected terminate after cancel")
	}
}
