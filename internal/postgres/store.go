// Package postgres implements the cache row store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
)

// Store provides PostgreSQL-backed cache rows. Times are unix milliseconds.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a new PostgreSQL cache store
func NewStore(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations creates the cache table
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cache_entries (
			service VARCHAR(128) NOT NULL,
			tournament_id VARCHAR(64) NOT NULL DEFAULT '',
			team_id VARCHAR(64) NOT NULL DEFAULT '',
			game_code VARCHAR(64) NOT NULL DEFAULT '',
			payload BYTEA NOT NULL,
			expires_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (service, tournament_id, team_id, game_code)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_tournament ON cache_entries(tournament_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)`,
	}

	batch := &pgx.Batch{}
	for _, migration := range migrations {
		batch.Queue(migration)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range migrations {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// Get returns the row for exactly the given key. The remaining time is
// computed by the query against now.
func (s *Store) Get(ctx context.Context, key cache.Key, now time.Time) ([]byte, time.Duration, bool, error) {
	query := `
		SELECT payload, expires_at - $5
		FROM cache_entries
		WHERE service = $1 AND tournament_id = $2 AND team_id = $3 AND game_code = $4
	`
	var (
		payload     []byte
		remainingMs int64
	)
	err := s.pool.QueryRow(ctx, query,
		key.Service, key.TournamentID, key.TeamID, key.GameCode, now.UnixMilli(),
	).Scan(&payload, &remainingMs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("getting cache entry: %w", err)
	}
	return payload, time.Duration(remainingMs) * time.Millisecond, true, nil
}

// Put inserts or replaces a row
func (s *Store) Put(ctx context.Context, entry cache.Entry) error {
	query := `
		INSERT INTO cache_entries (service, tournament_id, team_id, game_code, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (service, tournament_id, team_id, game_code)
		DO UPDATE SET payload = $5, expires_at = $6, updated_at = $7
	`
	k := entry.Key
	_, err := s.pool.Exec(ctx, query,
		k.Service, k.TournamentID, k.TeamID, k.GameCode,
		entry.Payload, entry.ExpiresAt.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upserting cache entry: %w", err)
	}
	return nil
}

// Delete removes the rows selected by the filter
func (s *Store) Delete(ctx context.Context, filter cache.Filter) (int64, error) {
	where, args := wherePredicate(filter)
	result, err := s.pool.Exec(ctx, "DELETE FROM cache_entries"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting cache entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes rows whose expiry is at or before now
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("deleting expired cache entries: %w", err)
	}
	return result.RowsAffected(), nil
}

var _ cache.Store = (*Store)(nil)

// wherePredicate renders the filter as a WHERE clause with numbered
// placeholders. The zero filter renders as no clause.
func wherePredicate(filter cache.Filter) (string, []any) {
	conds := filter.Conditions()
	if len(conds) == 0 {
		return "", nil
	}
	parts := make([]string, len(conds))
	args := make([]any, len(conds))
	for i, c := range conds {
		parts[i] = fmt.Sprintf("%s = $%d", c.Column, i+1)
		args[i] = c.Value
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}
