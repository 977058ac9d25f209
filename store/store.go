/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package store persists trivia session snapshots in SQLite so a game
// survives a server restart or a browser reload.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Seednode/quizboard/games/trivia"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    game_id    TEXT PRIMARY KEY,
    revision   INTEGER NOT NULL,
    purged     INTEGER NOT NULL DEFAULT 0,
    state      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

var ErrNotConfigured = errors.New("storage is not configured")

// Store implements trivia.Persister on SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens the database at path, creating the schema if needed. ":memory:"
// is accepted for throwaway stores.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is its own database.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save writes snap unless a row with an equal or newer revision exists.
func (s *Store) Save(ctx context.Context, snap trivia.Snapshot) error {
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}
	if snap.GameID == "" {
		return fmt.Errorf("game id is required")
	}

	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (game_id, revision, purged, state, updated_at)
VALUES (?, ?, 0, ?, ?)
ON CONFLICT(game_id) DO UPDATE SET
    revision = excluded.revision,
    purged = 0,
    state = excluded.state,
    updated_at = excluded.updated_at
WHERE excluded.revision > sessions.revision`,
		snap.GameID, int64(snap.Revision), string(state), s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save session %s: %w", snap.GameID, err)
	}

	return nil
}

// Load returns the live snapshot for gameID. Purged games report false.
func (s *Store) Load(ctx context.Context, gameID string) (trivia.Snapshot, bool, error) {
	if s == nil || s.sqlDB == nil {
		return trivia.Snapshot{}, false, ErrNotConfigured
	}

	var state string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE game_id = ? AND purged = 0`, gameID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return trivia.Snapshot{}, false, nil
	}
	if err != nil {
		return trivia.Snapshot{}, false, fmt.Errorf("load session %s: %w", gameID, err)
	}

	var snap trivia.Snapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return trivia.Snapshot{}, false, fmt.Errorf("decode session %s: %w", gameID, err)
	}

	return snap, true, nil
}

// Purge tombstones gameID at revision, clearing its state. Saves that were
// issued before the purge carry a lower revision and are ignored.
func (s *Store) Purge(ctx context.Context, gameID string, revision uint64) error {
	if s == nil || s.sqlDB == nil {
		return ErrNotConfigured
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (game_id, revision, purged, state, updated_at)
VALUES (?, ?, 1, '', ?)
ON CONFLICT(game_id) DO UPDATE SET
    revision = MAX(sessions.revision, excluded.revision),
    purged = 1,
    state = '',
    updated_at = excluded.updated_at`,
		gameID, int64(revision), s.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("purge session %s: %w", gameID, err)
	}

	return nil
}

// Sweep deletes rows untouched since before cutoff and returns how many went.
func (s *Store) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.sqlDB == nil {
		return 0, ErrNotConfigured
	}

	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}

	return res.RowsAffected()
}
