package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

const DefaultHistoryLimit = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines history plus a snapshot/journal of last fires
//   - "sqlite": SQLite database file (pure Go driver)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver       string
	Path         string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	HistoryLimit int           // sqlite only; rows kept in fires, 0 means DefaultHistoryLimit
}

// FireEntry records one dispatched period.
type FireEntry struct {
	At     time.Time     `json:"at"`
	Name   string        `json:"name"`
	Period time.Duration `json:"period"`
	Delay  time.Duration `json:"delay,omitempty"`
	Action string        `json:"action,omitempty"`
}
