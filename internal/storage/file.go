package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cliprelay/pkg/logx"
)

// fileStore appends one JSON object per line to <stem>.deliveries.jsonl
// beside the configured path. Recent reads the whole file back.
type fileStore struct {
	log  logx.Logger
	path string

	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func journalPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path), stem+".deliveries.jsonl")
}

func openFile(path string, log logx.Logger) (Store, error) {
	journal := journalPath(path)
	if err := os.MkdirAll(filepath.Dir(journal), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(journal, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	if err := terminateTornLine(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	log.Debug("delivery journal opened", logx.String("path", journal))
	return &fileStore{log: log, path: journal, f: f, enc: json.NewEncoder(f)}, nil
}

// terminateTornLine ends a partial last line left by a crash so the next
// record starts on a line of its own.
func terminateTornLine(f *os.File) error {
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, st.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.enc = nil, nil
	return err
}

func (s *fileStore) AppendDelivery(_ context.Context, e DeliveryEntry) error {
	e.stamp()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return ErrClosed
	}
	return s.enc.Encode(e)
}

func (s *fileStore) Recent(ctx context.Context, n int) ([]DeliveryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	raw, err := io.ReadAll(io.NewSectionReader(s.f, 0, 1<<62))
	if err != nil {
		return nil, err
	}

	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(nil, len(raw)+1)
	for sc.Scan() {
		lines = append(lines, sc.Bytes())
	}

	out := make([]DeliveryEntry, 0, min(n, len(lines)))
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var e DeliveryEntry
		if err := json.Unmarshal(lines[i], &e); err != nil {
			s.log.Debug("skipping unreadable journal line", logx.Int("line", i+1), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
