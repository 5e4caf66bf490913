package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	logx "cliprelay/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var schema string

const entryColumns = `at, kind, dest, name, chat_id, thread_id, lines, bytes, ok, err, took_ms, content`

type sqliteStore struct {
	db     *sql.DB
	insert *sql.Stmt
}

// sqliteDSN passes the connection pragmas through the modernc driver so
// every pooled connection gets them.
func sqliteDSN(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return path + "?" + q.Encode()
}

func openSQLite(path string, busy time.Duration, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	insert, err := db.Prepare(`INSERT INTO deliveries(` + entryColumns + `) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("delivery journal opened", logx.String("path", path))
	return &sqliteStore{db: db, insert: insert}, nil
}

func (s *sqliteStore) Close() error {
	return errors.Join(s.insert.Close(), s.db.Close())
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	e.stamp()
	_, err := s.insert.ExecContext(ctx,
		e.At.UTC().Format(time.RFC3339Nano), e.Kind, e.Destination, e.Name, e.ChatID, e.ThreadID,
		e.Lines, e.Bytes, e.OK, optional(e.Error), e.TookMS, optional(e.Content),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]DeliveryEntry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM deliveries ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DeliveryEntry, 0, n)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(rows *sql.Rows) (DeliveryEntry, error) {
	var (
		e            DeliveryEntry
		at           string
		errText, msg sql.NullString
	)
	err := rows.Scan(&at, &e.Kind, &e.Destination, &e.Name, &e.ChatID, &e.ThreadID,
		&e.Lines, &e.Bytes, &e.OK, &errText, &e.TookMS, &msg)
	if err != nil {
		return e, err
	}
	if e.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return e, fmt.Errorf("deliveries.at %q: %w", at, err)
	}
	e.Error, e.Content = errText.String, msg.String
	return e, nil
}

// optional stores empty strings as NULL.
func optional(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
