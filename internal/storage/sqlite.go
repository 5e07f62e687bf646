package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "tickpoll/pkg/logx"
)

//go:embed migrations.sql
var migrations string

const pruneEvery = 500

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	historyLimit int
	opCount      atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; the poll loop is the only producer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	limit := cfg.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	st := &sqliteStore{db: db, log: log, historyLimit: limit}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendFire(ctx context.Context, e FireEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	at := e.At.UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fires(at, name, period_ns, delay_ns, action) VALUES(?,?,?,?,?)`,
		at, e.Name, int64(e.Period), int64(e.Delay), nullStr(e.Action),
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO last_fire(name, at) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET at=excluded.at WHERE excluded.at > last_fire.at`,
		e.Name, at,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if s.opCount.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("fire history prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) LastFire(ctx context.Context, name string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrDisabled
	}
	var ns int64
	err := s.db.QueryRowContext(ctx, `SELECT at FROM last_fire WHERE name = ?`, name).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(0, ns), true, nil
}

func (s *sqliteStore) LastFires(ctx context.Context, name string, limit int) ([]FireEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}

	q := `SELECT at, name, period_ns, delay_ns, COALESCE(action, '') FROM fires`
	args := []any{}
	if name != "" {
		q += ` WHERE name = ?`
		args = append(args, name)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]FireEntry, 0, limit)
	for rows.Next() {
		var (
			at, period, delay int64
			e                 FireEntry
		)
		if err := rows.Scan(&at, &e.Name, &period, &delay, &e.Action); err != nil {
			return nil, err
		}
		e.At = time.Unix(0, at)
		e.Period = time.Duration(period)
		e.Delay = time.Duration(delay)
		out = append(out, e)
	}
	return out, rows.Err()
}

// prune keeps the newest historyLimit rows.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM fires WHERE id <= (SELECT MAX(id) FROM fires) - ?`, s.historyLimit)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
