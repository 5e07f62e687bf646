package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	logx "tickpoll/pkg/logx"
)

// Store persists the fire history of named periods.
type Store interface {
	AppendFire(ctx context.Context, e FireEntry) error
	// LastFires returns up to limit entries, newest first. An empty name
	// matches every period.
	LastFires(ctx context.Context, name string, limit int) ([]FireEntry, error)
	// LastFire returns the most recent fire time of name.
	LastFire(ctx context.Context, name string) (at time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
