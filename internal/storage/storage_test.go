package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "cliprelay/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestJournalDrivers(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "cliprelay.db")
			st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i := 0; i < 4; i++ {
				e := DeliveryEntry{
					At:          base.Add(time.Duration(i) * time.Second),
					Kind:        "send",
					Destination: i % 2,
					Name:        fmt.Sprintf("d%d", i%2),
					ChatID:      -100,
					Lines:       5,
					Bytes:       20,
					OK:          i != 2,
					TookMS:      int64(i),
				}
				if !e.OK {
					e.Error = "boom"
					e.Content = "a\nb"
				}
				if err := st.AppendDelivery(ctx, e); err != nil {
					t.Fatalf("AppendDelivery %d: %v", i, err)
				}
			}

			got, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("Recent returned %d entries", len(got))
			}
			if got[0].TookMS != 3 || got[1].TookMS != 2 || got[2].TookMS != 1 {
				t.Fatalf("Recent order = %d,%d,%d", got[0].TookMS, got[1].TookMS, got[2].TookMS)
			}
			failed := got[1]
			if failed.OK || failed.Error != "boom" || failed.Content != "a\nb" {
				t.Fatalf("failed entry = %+v", failed)
			}
			if !failed.At.Equal(base.Add(2 * time.Second)) {
				t.Fatalf("At = %v", failed.At)
			}

			all, err := st.Recent(ctx, 50)
			if err != nil || len(all) != 4 {
				t.Fatalf("Recent(50) = %d entries, err %v", len(all), err)
			}
		})
	}
}

func TestFileJournalSkipsTornLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.AppendDelivery(context.Background(), DeliveryEntry{Kind: "flush", OK: true})
	_ = st.Close()

	journal := filepath.Join(dir, "relay.deliveries.jsonl")
	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("journal not at expected path: %v", err)
	}
	_, _ = f.WriteString(`{"at":"2026-`)
	_ = f.Close()

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if err := st.AppendDelivery(context.Background(), DeliveryEntry{Kind: "recovery", OK: true}); err != nil {
		t.Fatalf("append after torn line: %v", err)
	}
	got, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].Kind != "recovery" || got[1].Kind != "flush" {
		t.Fatalf("Recent = %+v", got)
	}
}

func TestClosedJournal(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = st.Close()
	if err := st.AppendDelivery(context.Background(), DeliveryEntry{}); err != ErrClosed {
		t.Fatalf("AppendDelivery after Close = %v", err)
	}
	if _, err := Open(Config{Driver: "sqlite"}, logx.Nop()); err == nil {
		t.Fatalf("expected missing path error")
	}
}
