// Package sqlite implements the cache row store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/tourney-sync/internal/cache"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store provides SQLite-backed cache rows. Times are unix milliseconds.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and creates the cache table.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

// Get loads the row for exactly the given key, with its remaining time
// computed by the query against now.
func (s *Store) Get(ctx context.Context, key cache.Key, now time.Time) ([]byte, time.Duration, bool, error) {
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT payload, expires_at - ?
		 FROM cache_entries
		 WHERE service = ? AND tournament_id = ? AND team_id = ? AND game_code = ?`,
		now.UnixMilli(), key.Service, key.TournamentID, key.TeamID, key.GameCode,
	)

	var (
		payload     []byte
		remainingMs int64
	)
	if err := row.Scan(&payload, &remainingMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, false, nil
		}
		return nil, 0, false, fmt.Errorf("get cache entry: %w", err)
	}
	return payload, time.Duration(remainingMs) * time.Millisecond, true, nil
}

// Put upserts a row by its key.
func (s *Store) Put(ctx context.Context, entry cache.Entry) error {
	k := entry.Key
	if k.Service == "" {
		return fmt.Errorf("cache service is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO cache_entries (service, tournament_id, team_id, game_code, payload, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(service, tournament_id, team_id, game_code) DO UPDATE SET
		    payload = excluded.payload,
		    expires_at = excluded.expires_at,
		    updated_at = excluded.updated_at`,
		k.Service, k.TournamentID, k.TeamID, k.GameCode,
		entry.Payload, entry.ExpiresAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

// Delete removes the rows selected by the filter.
func (s *Store) Delete(ctx context.Context, filter cache.Filter) (int64, error) {
	where, args := wherePredicate(filter)
	res, err := s.sqlDB.ExecContext(ctx, "DELETE FROM cache_entries"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete cache entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes rows whose expiry is at or before now.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

var _ cache.Store = (*Store)(nil)

func wherePredicate(filter cache.Filter) (string, []any) {
	conds := filter.Conditions()
	if len(conds) == 0 {
		return "", nil
	}
	parts := make([]string, len(conds))
	args := make([]any, len(conds))
	for i, c := range conds {
		parts[i] = c.Column + " = ?"
		args[i] = c.Value
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}
