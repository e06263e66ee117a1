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

	logx "versebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsSQL string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one pooled handle for the process lifetime.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if _, err := db.ExecContext(context.Background(), migrationsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Get(ctx context.Context, identity string) (int, bool, error) {
	var day int
	err := s.db.QueryRowContext(ctx, `SELECT day FROM recipients WHERE identity = ?`, identity).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr("get", err)
	}
	return day, true, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, identity string, day int) error {
	if err := validate(identity, day); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(identity, day) VALUES(?, ?)
		 ON CONFLICT(identity) DO UPDATE SET day = excluded.day`,
		identity, day,
	)
	return storeErr("upsert", err)
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT identity FROM recipients`)
	if err != nil {
		return nil, storeErr("list", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("list", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", err)
	}
	return out, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
