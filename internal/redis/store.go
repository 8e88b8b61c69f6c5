// Package redis implements the cache row store on Redis. Expiry is native:
// rows are written with a TTL and Redis drops them on its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
)

const scanCount = 500

// Store provides Redis-backed cache rows
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewStore creates a new Redis cache store
func NewStore(cfg *config.RedisConfig, logger *slog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Store{
		client: client,
		prefix: cfg.KeyPrefix,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the row and its remaining TTL as reported by PTTL.
func (s *Store) Get(ctx context.Context, key cache.Key, _ time.Time) ([]byte, time.Duration, bool, error) {
	redisKey := entryKey(s.prefix, key)

	// Use pipeline to get both payload and ttl
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, redisKey)
	ttlCmd := pipe.PTTL(ctx, redisKey)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("getting cache entry: %w", err)
	}

	payload, err := getCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("reading cache entry: %w", err)
	}

	remaining, err := ttlCmd.Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("reading cache ttl: %w", err)
	}
	if remaining < 0 {
		// The key expired between GET and PTTL.
		return nil, 0, false, nil
	}
	return payload, remaining, true, nil
}

// Put writes the row with a TTL; rows already past their expiry are dropped.
func (s *Store) Put(ctx context.Context, entry cache.Entry) error {
	redisKey := entryKey(s.prefix, entry.Key)
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		if err := s.client.Del(ctx, redisKey).Err(); err != nil {
			return fmt.Errorf("deleting expired cache entry: %w", err)
		}
		return nil
	}
	if err := s.client.Set(ctx, redisKey, entry.Payload, ttl).Err(); err != nil {
		return fmt.Errorf("setting cache entry: %w", err)
	}
	return nil
}

// Delete removes every row selected by the filter, scanning with a glob
// pattern built from its set dimensions.
func (s *Store) Delete(ctx context.Context, filter cache.Filter) (int64, error) {
	var (
		removed int64
		cursor  uint64
	)
	pattern := filterPattern(s.prefix, filter)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("scanning cache entries: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("deleting cache entries: %w", err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.logger.Debug("redis cache entries deleted", "pattern", pattern, "removed", removed)
	return removed, nil
}

// DeleteExpired is a no-op: Redis expires rows itself.
func (s *Store) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ cache.Store = (*Store)(nil)

// segmentEscaper keeps dimension values free of the separator so every key
// has the same number of segments.
var segmentEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// globEscaper quotes the characters SCAN MATCH treats as wildcards.
var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// entryKey returns prefix:service:tournament:team:game.
func entryKey(prefix string, key cache.Key) string {
	return strings.Join([]string{
		prefix,
		segmentEscaper.Replace(key.Service),
		segmentEscaper.Replace(key.TournamentID),
		segmentEscaper.Replace(key.TeamID),
		segmentEscaper.Replace(key.GameCode),
	}, ":")
}

// filterPattern returns the SCAN MATCH pattern for a filter. Unset
// dimensions become "*"; since values never contain ":" each "*" stays
// within its own segment.
func filterPattern(prefix string, filter cache.Filter) string {
	part := func(v string) string {
		if v == "" {
			return "*"
		}
		return globEscaper.Replace(segmentEscaper.Replace(v))
	}
	return strings.Join([]string{
		globEscaper.Replace(prefix),
		part(filter.Service),
		part(filter.TournamentID),
		part(filter.TeamID),
		part(filter.GameCode),
	}, ":")
}
