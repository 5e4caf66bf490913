package eventbus

import "testing"

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	sent, unsubSent := b.Subscribe(4, "relay.sent")
	defer unsubSent()

	b.Publish(Event{Type: "relay.state"})
	b.Publish(Event{Type: "relay.sent", Data: 1})

	if len(all) != 2 {
		t.Fatalf("all subscriber got %d events, want 2", len(all))
	}
	if len(sent) != 1 {
		t.Fatalf("filtered subscriber got %d events, want 1", len(sent))
	}
	e := <-sent
	if e.Type != "relay.sent" || e.Time.IsZero() {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishDropsWhenSubscriberFull(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if got := b.Dropped(); got != 1 {
		t.Fatalf("Dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	b.Publish(Event{Type: "after"})
}
