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

	logx "versebot/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.progress.snapshot.json (periodic snapshot)
//   - <prefix>.progress.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every fileCompactEvery writes
// and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	days         map[string]int
	writes       int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".progress.snapshot.json"
	journalPath := prefix + ".progress.journal.jsonl"

	days := map[string]int{}
	if err := loadSnapshot(snapPath, days); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, days); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix), logx.Int("recipients", len(days)))
	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		days:         days,
	}, nil
}

func (s *fileStore) Get(ctx context.Context, identity string) (int, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, false, storeErr("get", ErrClosed)
	}
	day, ok := s.days[identity]
	return day, ok, nil
}

func (s *fileStore) Upsert(ctx context.Context, identity string, day int) error {
	_ = ctx
	if err := validate(identity, day); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return storeErr("upsert", ErrClosed)
	}
	// Journal first: the in-memory view never gets ahead of disk.
	if err := json.NewEncoder(s.journal).Encode(RecipientState{Identity: identity, Day: day}); err != nil {
		return storeErr("upsert", err)
	}
	s.days[identity] = day
	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("progress journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) ListAll(ctx context.Context) ([]string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, storeErr("list", ErrClosed)
	}
	out := make([]string, 0, len(s.days))
	for id := range s.days {
		out = append(out, id)
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	errCompact := s.compactLocked()
	errClose := s.journal.Close()
	s.journal = nil
	return errors.Join(errCompact, errClose)
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.days); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RecipientState
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail write; later lines are still applied
			continue
		}
		if r.Identity == "" {
			continue
		}
		out[r.Identity] = r.Day
	}
	return sc.Err()
}
