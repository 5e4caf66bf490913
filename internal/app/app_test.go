package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cliprelay/internal/config"
	"cliprelay/internal/relay"
	"cliprelay/internal/storage"
	kit "cliprelay/internal/transport"
	"cliprelay/pkg/systemd"
)

type sent struct {
	To      kit.ChatTarget
	Content string
}

type stubBackend struct {
	mu       sync.Mutex
	history  map[int64][]kit.HistoryMessage
	sent     []sent
	deleted  []kit.MessageRef
	rate     []float64
	burst    int
	finished bool
}

func (b *stubBackend) Start(_ context.Context, ready func()) error {
	ready()
	return nil
}

func (b *stubBackend) Dispatch(_ context.Context, to kit.ChatTarget, content string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{To: to, Content: content})
	return nil
}

func (b *stubBackend) FetchHistory(_ context.Context, source kit.ChatTarget) ([]kit.HistoryMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.history[source.ChatID]
	delete(b.history, source.ChatID)
	return msgs, nil
}

func (b *stubBackend) Delete(_ context.Context, ref kit.MessageRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, ref)
	return nil
}

func (b *stubBackend) Terminate(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finished = true
	return nil
}

func (b *stubBackend) SetRate(perSec float64, burst int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate = append(b.rate, perSec)
	b.burst = burst
}

type notifyLog struct {
	mu     sync.Mutex
	states []string
}

func (n *notifyLog) send(state string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return true, nil
}

func (n *notifyLog) has(state string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.states {
		if s == state {
			return true
		}
	}
	return false
}

const testConfig = `
backend: console
destinations:
  - name: alpha
    send: { chat_id: -1001 }
    source: { chat_id: -1002 }
  - name: beta
    send: { chat_id: -1003, thread_id: 4 }
relay:
  queue_size: 10
  poll_interval: 10ms
  shutdown_timeout: 2s
logging: { level: error, console: false }
storage: { driver: file, path: "%DIR%/relay.db" }
report: { schedule: "" }
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cliprelay.yaml")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(body, "%DIR%", dir)), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppRecoversRelaysAndFlushes(t *testing.T) {
	path := writeConfig(t, testConfig)
	backend := &stubBackend{history: map[int64][]kit.HistoryMessage{
		-1002: {{Ref: kit.MessageRef{ChatID: -1002, MessageID: 41}, Text: "r1\n\nr2"}},
	}}
	notes := &notifyLog{}

	a, err := New(path, WithBackend(backend), WithNotifier(systemd.NewWith(notes.send)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := strings.Join(a.Destinations(), ","); got != "alpha,beta" {
		t.Fatalf("destinations = %s", got)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p := a.Producer()
	if res, err := p.Paste(ctx, 0, "a\nb\nc\nd\ne\nf"); err != nil || res.Batches != 1 || res.Pending != 1 {
		t.Fatalf("Paste alpha = %+v, %v", res, err)
	}
	if _, err := p.Paste(ctx, 1, "x\na"); err != nil {
		t.Fatalf("Paste beta: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-a.Loop().Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("loop did not stop; state=%s", a.Loop().State())
	}
	if err := a.Stop(ctx, StopOperator); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	backend.mu.Lock()
	got := append([]sent(nil), backend.sent...)
	deleted := append([]kit.MessageRef(nil), backend.deleted...)
	finished := backend.finished
	backend.mu.Unlock()

	want := []sent{
		{kit.ChatTarget{ChatID: -1001}, "r1\nr2"},
		{kit.ChatTarget{ChatID: -1001}, "a\nb\nc\nd\ne"},
		{kit.ChatTarget{ChatID: -1001}, "f"},
		{kit.ChatTarget{ChatID: -1003, ThreadID: 4}, "x"}, // "a" was already relayed to alpha
	}
	if len(got) != len(want) {
		t.Fatalf("sent %d messages: %+v", len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if len(deleted) != 1 || deleted[0].MessageID != 41 {
		t.Fatalf("deleted = %+v", deleted)
	}
	if !finished {
		t.Fatalf("backend was not terminated")
	}

	st := a.Stats()
	if st.Sent != 4 || st.Failed != 0 || st.Recovered != 1 || st.Flushed != 2 || st.Lines != 9 {
		t.Fatalf("stats = %+v", st)
	}
	if !notes.has("READY=1") || !notes.has("STOPPING=1") {
		t.Fatalf("sd_notify states = %q", notes.states)
	}

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(filepath.Dir(path), "relay.db")}, a.Logger())
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer store.Close()
	entries, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("journal has %d entries", len(entries))
	}
	last := entries[0]
	if last.Kind != relay.KindFlush || last.Name != "beta" || last.ChatID != -1003 || last.ThreadID != 4 || !last.OK {
		t.Fatalf("newest journal entry = %+v", last)
	}
	if entries[3].Kind != relay.KindRecovery {
		t.Fatalf("oldest journal entry = %+v", entries[3])
	}
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	path := writeConfig(t, testConfig)
	backend := &stubBackend{}
	a, err := New(path, WithBackend(backend), WithNotifier(systemd.NewWith(func(string) (bool, error) { return false, nil })))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// never started: Stop is a no-op
	if err := a.Stop(context.Background(), StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if backend.finished {
		t.Fatalf("Stop without Start must not touch the backend")
	}
	_ = a.Store().Close()
}

func TestNewRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"no destinations": "backend: console\ndestinations: []\n",
		"unknown key":     "backend: console\nbogus: 1\n",
		"no token":        "backend: telegram\ndestinations:\n  - name: a\n    send: { chat_id: 1 }\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(config.TokenEnv, "")
			if _, err := New(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestNewBuildsConfiguredBackend(t *testing.T) {
	body := "backend: telegram\ntelegram: { token: \"1:x\" }\ndestinations:\n  - name: a\n    send: { chat_id: 1 }\nlogging: { level: error }\n"
	a, err := New(writeConfig(t, body))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := a.backend.(rateSetter); !ok {
		t.Fatalf("telegram backend should support live rate changes, got %T", a.backend)
	}
	if a.Store() != nil {
		t.Fatalf("journal should be disabled without storage config")
	}
}

func decode(t *testing.T, body string) *config.Config {
	t.Helper()
	cfg, err := config.Decode("cfg.yaml", []byte(body))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return cfg
}

func TestApplyConfigLiveRate(t *testing.T) {
	path := writeConfig(t, testConfig)
	backend := &stubBackend{}
	a, err := New(path, WithBackend(backend))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Store().Close()
	base := "backend: console\ndestinations:\n  - name: a\n    send: { chat_id: 1 }\nlogging: { level: error }\n"
	prev := decode(t, base)
	next := decode(t, base+"telegram: { rate_per_sec: 5, burst: 2 }\n")

	a.applyConfig(prev, next)
	a.applyConfig(next, next)

	if len(backend.rate) != 1 || backend.rate[0] != 5 || backend.burst != 2 {
		t.Fatalf("SetRate calls = %v burst %d", backend.rate, backend.burst)
	}
}

func TestStatsObserve(t *testing.T) {
	var s Stats
	now := time.Now()
	s.observe(relay.DeliveryEvent{Kind: relay.KindSend, Lines: 5})
	s.observe(relay.DeliveryEvent{Kind: relay.KindRecovery, Lines: 2})
	s.observe(relay.DeliveryEvent{Kind: relay.KindFlush, Lines: 1})
	s.observe(relay.DeliveryEvent{Kind: relay.KindSend, Lines: 3, Error: "boom", At: now})

	snap := s.Snapshot()
	if snap.Sent != 3 || snap.Failed != 1 || snap.Recovered != 1 || snap.Flushed != 1 || snap.Lines != 8 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.LastFailure.Equal(time.Unix(0, now.UnixNano())) {
		t.Fatalf("LastFailure = %v", snap.LastFailure)
	}
}

func TestMapping(t *testing.T) {
	dests := mapDestinations([]config.DestinationConfig{
		{Name: " a ", Send: config.TargetConfig{ChatID: 1}, Source: &config.TargetConfig{ChatID: 2, ThreadID: 3}},
		{Name: "b", Send: config.TargetConfig{ChatID: 4}},
	})
	if dests[0].Name != "a" || dests[0].Source != (kit.ChatTarget{ChatID: 2, ThreadID: 3}) || dests[1].HasSource() {
		t.Fatalf("destinations = %+v", dests)
	}
	tc := mapTelegram(&config.Settings{Token: "t", RatePerSec: 2, Burst: 1}, dests)
	if len(tc.Sources) != 1 || tc.Sources[0].ChatID != 2 {
		t.Fatalf("telegram sources = %+v", tc.Sources)
	}

	e := entryFromEvent(relay.DeliveryEvent{
		Kind:   relay.KindSend,
		Target: kit.ChatTarget{ChatID: 9, ThreadID: 1},
		Took:   1500 * time.Millisecond,
		Error:  "x",
	})
	if e.OK || e.ChatID != 9 || e.ThreadID != 1 || e.TookMS != 1500 {
		t.Fatalf("entry = %+v", e)
	}
	if _, ok := mapStorageConfig(&config.Settings{}); ok {
		t.Fatalf("empty driver must disable the journal")
	}
}
