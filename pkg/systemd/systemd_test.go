package systemd

import (
	"errors"
	"testing"
)

func TestNotifierStates(t *testing.T) {
	var got []string
	n := NewWith(func(state string) (bool, error) {
		got = append(got, state)
		return true, nil
	})
	_, _ = n.Ready()
	_, _ = n.Status("queue %d/%d", 3, 100)
	_, _ = n.Stopping()

	want := []string{"READY=1", "STATUS=queue 3/100", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("got %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotifierNilAndErrors(t *testing.T) {
	var n *Notifier
	if ok, err := n.Ready(); ok || err != nil {
		t.Fatalf("nil notifier: %v, %v", ok, err)
	}
	boom := errors.New("socket gone")
	n = NewWith(func(string) (bool, error) { return false, boom })
	if _, err := n.Stopping(); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	if ok, err := New().Ready(); ok || err != nil {
		t.Fatalf("Ready without NOTIFY_SOCKET = %v, %v", ok, err)
	}
}
