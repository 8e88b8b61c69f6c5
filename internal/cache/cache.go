package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tourney-sync/internal/config"
)

// Event types delivered to listeners
const (
	EventInvalidated = "invalidated"
	EventSwept       = "swept"
)

// Event describes a bulk change to the cache.
type Event struct {
	Type    string    `json:"type"`
	Filter  Filter    `json:"filter"`
	Removed int64     `json:"removed"`
	Remote  bool      `json:"remote"`
	At      time.Time `json:"at"`
}

// Listener observes invalidations and sweeps.
type Listener interface {
	OnCacheEvent(ctx context.Context, event Event)
}

// Cache is the get-or-compute layer in front of a Store.
type Cache struct {
	store     Store
	config    *config.CacheConfig
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	listeners []Listener
	group     singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics attaches metrics collectors
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithListener adds an event listener
func WithListener(l Listener) Option {
	return func(c *Cache) { c.listeners = append(c.listeners, l) }
}

// New creates a cache over the given store
func New(store Store, cfg *config.CacheConfig, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddListener registers a listener after construction.
func (c *Cache) AddListener(l Listener) {
	c.listeners = append(c.listeners, l)
}

// Enabled reports whether lookups are served from the store.
func (c *Cache) Enabled() bool {
	return c != nil && c.config.Enabled
}

// TTL returns the time-to-live configured for a service.
func (c *Cache) TTL(service string) time.Duration {
	if c == nil {
		return 0
	}
	return c.config.TTL(service)
}

// Get returns the payload for exactly this key if it has not expired.
func (c *Cache) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	payload, remaining, found, err := c.store.Get(ctx, key, c.now())
	if err != nil {
		c.metrics.storeError("get")
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if !found || remaining <= 0 {
		c.metrics.miss(key.Service)
		return nil, false, nil
	}
	c.metrics.hit(key.Service)
	return payload, true, nil
}

// Put upserts an entry expiring ttl from now. A non-positive ttl stores an
// entry that is already expired.
func (c *Cache) Put(ctx context.Context, key Key, payload []byte, ttl time.Duration) error {
	entry := Entry{
		Key:       key,
		Payload:   payload,
		ExpiresAt: c.now().Add(ttl),
	}
	if err := c.store.Put(ctx, entry); err != nil {
		c.metrics.storeError("put")
		return fmt.Errorf("writing cache entry: %w", err)
	}
	c.metrics.put()
	return nil
}

// Invalidate deletes every entry selected by the filter and tells listeners,
// including the invalidation bus.
func (c *Cache) Invalidate(ctx context.Context, filter Filter) (int64, error) {
	return c.invalidate(ctx, filter, false)
}

// ApplyInvalidation deletes entries for an invalidation that originated in
// another process. Listeners see it as remote and must not re-publish it.
func (c *Cache) ApplyInvalidation(ctx context.Context, filter Filter) (int64, error) {
	return c.invalidate(ctx, filter, true)
}

func (c *Cache) invalidate(ctx context.Context, filter Filter, remote bool) (int64, error) {
	n, err := c.store.Delete(ctx, filter)
	if err != nil {
		c.metrics.storeError("delete")
		return 0, fmt.Errorf("invalidating cache: %w", err)
	}
	origin := "local"
	if remote {
		origin = "remote"
	}
	c.metrics.invalidated(origin, n)
	c.logger.Debug("cache invalidated",
		"service", filter.Service,
		"tournament_id", filter.TournamentID,
		"team_id", filter.TeamID,
		"game_code", filter.GameCode,
		"removed", n,
		"origin", origin,
	)
	c.emit(ctx, Event{Type: EventInvalidated, Filter: filter, Removed: n, Remote: remote, At: c.now()})
	return n, nil
}

// SweepExpired deletes every entry whose expiry has passed.
func (c *Cache) SweepExpired(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpired(ctx, c.now())
	if err != nil {
		c.metrics.storeError("sweep")
		return 0, fmt.Errorf("sweeping cache: %w", err)
	}
	c.metrics.sweep(n)
	if n > 0 {
		c.emit(ctx, Event{Type: EventSwept, Removed: n, At: c.now()})
	}
	return n, nil
}

func (c *Cache) emit(ctx context.Context, event Event) {
	for _, l := range c.listeners {
		l.OnCacheEvent(ctx, event)
	}
}

// Fetch returns the cached value for key, or computes it, stores it for ttl
// and returns it. The boolean reports whether the value came from the cache.
//
// A nil or disabled cache, or a non-positive ttl, always computes. Store
// failures are logged and fall through to compute so callers observe the
// same contract as calling compute directly.
func Fetch[T any](ctx context.Context, c *Cache, key Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, bool, error) {
	if !c.Enabled() || ttl <= 0 {
		v, err := compute(ctx)
		return v, false, err
	}

	if payload, ok, err := c.Get(ctx, key); err != nil {
		c.logger.Warn("cache read failed, calling through", "key", key.String(), "error", err)
	} else if ok {
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			return v, true, nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key.String())
	}

	// Waiters share one compute, so it must not end with the first caller.
	shared := context.WithoutCancel(ctx)
	result, err, _ := c.group.Do(key.String(), func() (any, error) {
		v, err := compute(shared)
		if err != nil {
			return v, err
		}
		payload, err := json.Marshal(v)
		if err != nil {
			c.logger.Warn("result not cacheable", "key", key.String(), "error", err)
			return v, nil
		}
		if err := c.Put(shared, key, payload, ttl); err != nil {
			c.logger.Warn("cache write failed", "key", key.String(), "error", err)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return result.(T), false, nil
}
