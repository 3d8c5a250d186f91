package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
//   - "memory": nothing is written to disk
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// LegacyPath points at a tasks.json written by the previous bot. It is
	// imported once when the configured store is empty.
	LegacyPath string
}
