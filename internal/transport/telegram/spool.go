package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	kit "cliprelay/internal/transport"
)

// spooled is a source message read from the update backlog.
type spooled struct {
	UpdateID  int    `json:"update_id"`
	ChatID    int64  `json:"chat_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`

	claimed bool
}

func (s spooled) ref() kit.MessageRef {
	return kit.MessageRef{ChatID: s.ChatID, ThreadID: s.ThreadID, MessageID: s.MessageID}
}

// spool keeps backlog messages until they are released. getUpdates drops an
// update as soon as a later offset is requested, so once a page has been
// read the spool file is the only copy. An empty path keeps it in memory.
//
// spool is not safe for concurrent use; Backend serializes access.
type spool struct {
	path string
	msgs []spooled
}

// load reads what an earlier run left behind. A missing file is empty.
func (s *spool) load() error {
	if s.path == "" {
		return nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var msgs []spooled
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return fmt.Errorf("backlog spool %s: %w", s.path, err)
		}
	}
	for _, m := range msgs {
		s.add(m)
	}
	return nil
}

// add appends m unless the same message is already spooled.
func (s *spool) add(m spooled) bool {
	for _, have := range s.msgs {
		if have.ChatID == m.ChatID && have.MessageID == m.MessageID {
			return false
		}
	}
	m.claimed = false
	s.msgs = append(s.msgs, m)
	return true
}

// claim hands out the unclaimed messages for source, oldest first. Claimed
// messages stay spooled until released.
func (s *spool) claim(source kit.ChatTarget) []kit.HistoryMessage {
	var out []kit.HistoryMessage
	for i := range s.msgs {
		m := &s.msgs[i]
		if m.claimed || m.ChatID != source.ChatID {
			continue
		}
		if source.ThreadID != 0 && m.ThreadID != source.ThreadID {
			continue
		}
		m.claimed = true
		out = append(out, kit.HistoryMessage{Ref: m.ref(), Text: m.Text})
	}
	return out
}

// release drops the message behind ref. It reports whether it was spooled.
func (s *spool) release(ref kit.MessageRef) bool {
	for i, m := range s.msgs {
		if m.ChatID == ref.ChatID && m.MessageID == ref.MessageID {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *spool) size() int { return len(s.msgs) }

// save replaces the spool file atomically.
func (s *spool) save() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(s.msgs)
	if err != nil {
		return err
	}
	if s.msgs == nil {
		raw = []byte("[]")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
