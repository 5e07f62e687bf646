package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tickpoll/pkg/logx"
)

const compactEvery = 1000

// fileStore keeps fire history without a database.
//
// Files:
//   - <prefix>.fires.jsonl         (append-only history)
//   - <prefix>.last.snapshot.json  (name -> last fire, unix nano)
//   - <prefix>.last.journal.jsonl  (append-only, folded into the snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	historyPath string
	historyFile *os.File

	snapshotPath string
	journalFile  *os.File
	last         map[string]int64

	journalWrites int
}

type lastRecord struct {
	Name string `json:"name"`
	At   int64  `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	st := &fileStore{
		log:          log,
		historyPath:  prefix + ".fires.jsonl",
		snapshotPath: prefix + ".last.snapshot.json",
		last:         map[string]int64{},
	}
	journalPath := prefix + ".last.journal.jsonl"

	// Missing files are normal on first start.
	if err := loadSnapshot(st.snapshotPath, st.last); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("last-fire snapshot unreadable; starting empty", logx.Err(err))
	}
	if err := replayJournal(journalPath, st.last); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("last-fire journal replay failed", logx.Err(err))
	}

	hf, err := os.OpenFile(st.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = hf.Close()
		return nil, err
	}
	st.historyFile = hf
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			errs = append(errs, err)
		}
		errs = append(errs, s.journalFile.Close())
		s.journalFile = nil
	}
	if s.historyFile != nil {
		errs = append(errs, s.historyFile.Close())
		s.historyFile = nil
	}
	return errors.Join(errs...)
}

func (s *fileStore) AppendFire(ctx context.Context, e FireEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyFile == nil || s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.historyFile).Encode(e); err != nil {
		return err
	}

	at := e.At.UnixNano()
	if prev, ok := s.last[e.Name]; ok && prev >= at {
		return nil
	}
	s.last[e.Name] = at
	if err := json.NewEncoder(s.journalFile).Encode(lastRecord{Name: e.Name, At: at}); err != nil {
		return err
	}
	s.journalWrites++
	if s.journalWrites%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("last-fire compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LastFire(ctx context.Context, name string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.last[name]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns), true, nil
}

// LastFires scans the whole history file keeping a ring of the newest
// matching entries.
func (s *fileStore) LastFires(ctx context.Context, name string, limit int) ([]FireEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	closed := s.historyFile == nil
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	f, err := os.Open(s.historyPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]FireEntry, 0, limit)
	next := 0
	sc := bufio.NewScanner(f)
	for n := 0; sc.Scan(); n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var e FireEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if name != "" && e.Name != name {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, e)
			continue
		}
		ring[next] = e
		next = (next + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]FireEntry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.last); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r lastRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.Name == "" {
			continue
		}
		if r.At > out[r.Name] {
			out[r.Name] = r.At
		}
	}
	return sc.Err()
}
