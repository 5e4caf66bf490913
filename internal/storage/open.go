package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "cliprelay/pkg/logx"
)

// Store is the delivery journal.
type Store interface {
	AppendDelivery(ctx context.Context, e DeliveryEntry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]DeliveryEntry, error)
	Close() error
}

// Open returns the journal selected by cfg.Driver, or nil, nil when the
// journal is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	path := strings.TrimSpace(cfg.Path)
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "none":
		return nil, nil
	case "file", "sqlite", "sqlite3":
		if path == "" {
			return nil, errors.New("storage.path is required")
		}
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if driver == "file" {
		return openFile(path, log)
	}
	return openSQLite(path, cfg.BusyTimeout, log)
}
