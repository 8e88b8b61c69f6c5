// Package store opens the cache row store selected by configuration.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/postgres"
	"github.com/tourney-sync/internal/redis"
	"github.com/tourney-sync/internal/sqlite"
)

// Open connects to the configured backend. Postgres tables are migrated on
// open; the SQLite schema is created by sqlite.Open.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory, "":
		return cache.NewMemoryStore(), nil

	case config.BackendSQLite:
		logger.Info("opening SQLite cache", "path", cfg.Cache.SQLitePath)
		s, err := sqlite.Open(cfg.Cache.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite cache: %w", err)
		}
		return s, nil

	case config.BackendPostgres:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		s, err := postgres.NewStore(&cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("opening postgres cache: %w", err)
		}
		if err := s.RunMigrations(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrating postgres cache: %w", err)
		}
		return s, nil

	case config.BackendRedis:
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		s, err := redis.NewStore(&cfg.Redis, logger)
		if err != nil {
			return nil, fmt.Errorf("opening redis cache: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
}
