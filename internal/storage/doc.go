// Package storage persists the delivery journal: one record per dispatch
// attempt made by the relay loop.
//
// Drivers:
//   - "file": append-only JSON Lines next to the configured path
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
package storage
