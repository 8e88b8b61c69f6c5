package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tourney-sync/internal/config"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingListener struct {
	events []Event
}

func (l *recordingListener) OnCacheEvent(_ context.Context, e Event) {
	l.events = append(l.events, e)
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	cfg := &config.CacheConfig{Enabled: true, DefaultTTL: time.Minute}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), store, clock
}

func TestPutThenGetHitsUntilTTL(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := Key{Service: "Tourney.TourneyLoad.Info", Scope: Scope{TournamentID: "A"}}

	if err := c.Put(ctx, key, []byte(`"v1"`), 60*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	payload, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get = %v, %v; want hit", ok, err)
	}
	if string(payload) != `"v1"` {
		t.Fatalf("payload = %s", payload)
	}

	clock.Advance(61 * time.Second)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatalf("expected miss after ttl")
	}
}

func TestExpiryBoundaryIsExclusive(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := Key{Service: "svc"}

	if err := c.Put(ctx, key, []byte("1"), 10*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.Advance(10 * time.Second)
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatalf("entry must be a miss at now == expires_at")
	}
}

func TestPutWithNonPositiveTTLIsImmediatelyExpired(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	key := Key{Service: "svc"}

	for _, ttl := range []time.Duration{0, -time.Second} {
		if err := c.Put(ctx, key, []byte("1"), ttl); err != nil {
			t.Fatalf("put: %v", err)
		}
		if _, ok, _ := c.Get(ctx, key); ok {
			t.Fatalf("ttl %v: expected miss", ttl)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expired row should still be stored until swept, len = %d", store.Len())
	}
}

func TestPointLookupDoesNotWildcardAbsentDimensions(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	scoped := Key{Service: "svc", Scope: Scope{TournamentID: "A"}}

	if err := c.Put(ctx, scoped, []byte("1"), time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, _ := c.Get(ctx, Key{Service: "svc"}); ok {
		t.Fatalf("unscoped lookup must not match a scoped entry")
	}
	if _, ok, _ := c.Get(ctx, Key{Service: "svc", Scope: Scope{TournamentID: "A", TeamID: "1"}}); ok {
		t.Fatalf("over-scoped lookup must not match")
	}
}

func TestScopesDoNotCollide(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	a := Key{Service: "svc", Scope: Scope{TournamentID: "A"}}
	b := Key{Service: "svc", Scope: Scope{TournamentID: "B"}}

	_ = c.Put(ctx, a, []byte("a"), time.Minute)
	_ = c.Put(ctx, b, []byte("b"), time.Minute)

	if p, _, _ := c.Get(ctx, a); string(p) != "a" {
		t.Fatalf("a = %s", p)
	}
	if p, _, _ := c.Get(ctx, b); string(p) != "b" {
		t.Fatalf("b = %s", p)
	}

	n, err := c.Invalidate(ctx, Filter{TournamentID: "A"})
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if _, ok, _ := c.Get(ctx, a); ok {
		t.Fatalf("A should be gone")
	}
	if _, ok, _ := c.Get(ctx, b); !ok {
		t.Fatalf("B should survive")
	}
}

func TestInvalidateByService(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	keys := []Key{
		{Service: "X"},
		{Service: "X", Scope: Scope{TournamentID: "A"}},
		{Service: "X", Scope: Scope{TeamID: "7", GameCode: "SC2"}},
		{Service: "Y", Scope: Scope{TournamentID: "A"}},
	}
	for _, k := range keys {
		_ = c.Put(ctx, k, []byte("1"), time.Minute)
	}

	n, err := c.Invalidate(ctx, Filter{Service: "X"})
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if n != 3 {
		t.Fatalf("removed = %d, want 3", n)
	}
	if _, ok, _ := c.Get(ctx, keys[3]); !ok {
		t.Fatalf("service Y entry must survive")
	}
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}
}

func TestInvalidateMultipleDimensions(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()
	keep := Key{Service: "X", Scope: Scope{TournamentID: "A", TeamID: "2"}}
	drop := Key{Service: "X", Scope: Scope{TournamentID: "A", TeamID: "1"}}
	_ = c.Put(ctx, keep, []byte("1"), time.Minute)
	_ = c.Put(ctx, drop, []byte("1"), time.Minute)

	if _, err := c.Invalidate(ctx, Filter{TournamentID: "A", TeamID: "1"}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := c.Get(ctx, drop); ok {
		t.Fatalf("team 1 entry should be gone")
	}
	if _, ok, _ := c.Get(ctx, keep); !ok {
		t.Fatalf("team 2 entry should survive")
	}
}

func TestInvalidateZeroFilterClearsEverything(t *testing.T) {
	c, store, _ := newTestCache(t)
	ctx := context.Background()
	_ = c.Put(ctx, Key{Service: "X"}, []byte("1"), time.Minute)
	_ = c.Put(ctx, Key{Service: "Y", Scope: Scope{GameCode: "HotS"}}, []byte("1"), time.Minute)

	if _, err := c.Invalidate(ctx, Filter{}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("len = %d, want 0", store.Len())
	}
}

func TestSweepExpired(t *testing.T) {
	listener := &recordingListener{}
	c, store, clock := newTestCache(t, WithListener(listener))
	ctx := context.Background()
	_ = c.Put(ctx, Key{Service: "short"}, []byte("1"), time.Second)
	_ = c.Put(ctx, Key{Service: "long"}, []byte("1"), time.Hour)

	clock.Advance(time.Minute)
	n, err := c.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 || store.Len() != 1 {
		t.Fatalf("swept %d, len %d; want 1, 1", n, store.Len())
	}
	if len(listener.events) != 1 || listener.events[0].Type != EventSwept {
		t.Fatalf("events = %+v", listener.events)
	}

	n, _ = c.SweepExpired(ctx)
	if n != 0 || len(listener.events) != 1 {
		t.Fatalf("empty sweep should not emit, events = %d", len(listener.events))
	}
}

func TestListenersSeeInvalidationOrigin(t *testing.T) {
	listener := &recordingListener{}
	c, _, _ := newTestCache(t, WithListener(listener))
	ctx := context.Background()

	_, _ = c.Invalidate(ctx, Filter{Service: "X"})
	_, _ = c.ApplyInvalidation(ctx, Filter{TournamentID: "A"})

	if len(listener.events) != 2 {
		t.Fatalf("events = %d, want 2", len(listener.events))
	}
	if listener.events[0].Remote || !listener.events[1].Remote {
		t.Fatalf("remote flags = %v, %v", listener.events[0].Remote, listener.events[1].Remote)
	}
}

type payload struct {
	Title string `json:"title"`
}

func TestFetchComputesOnceThenServesFromCache(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()
	key := Key{Service: "Tourney.TourneyLoad.Info", Scope: Scope{TournamentID: "A"}}
	calls := 0
	compute := func(context.Context) (*payload, error) {
		calls++
		return &payload{Title: "Cup"}, nil
	}

	v, fromCache, err := Fetch(ctx, c, key, time.Minute, compute)
	if err != nil || fromCache || v.Title != "Cup" {
		t.Fatalf("first fetch = %+v, %v, %v", v, fromCache, err)
	}
	v, fromCache, err = Fetch(ctx, c, key, time.Minute, compute)
	if err != nil || !fromCache || v.Title != "Cup" {
		t.Fatalf("second fetch = %+v, %v, %v", v, fromCache, err)
	}
	if calls != 1 {
		t.Fatalf("compute calls = %d, want 1", calls)
	}

	clock.Advance(2 * time.Minute)
	if _, fromCache, _ = Fetch(ctx, c, key, time.Minute, compute); fromCache {
		t.Fatalf("expired entry must be recomputed")
	}
	if calls != 2 {
		t.Fatalf("compute calls = %d, want 2", calls)
	}
}

func TestFetchWaitersSurviveFirstCallerCancel(t *testing.T) {
	c, _, _ := newTestCache(t)
	key := Key{Service: "Tourney.TourneyLoad.Info", Scope: Scope{TournamentID: "A"}}
	started := make(chan struct{})
	release := make(chan struct{})
	compute := func(ctx context.Context) (*payload, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &payload{Title: "Cup"}, nil
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := Fetch(first, c, key, time.Minute, compute)
		firstErr <- err
	}()
	<-started

	type outcome struct {
		v   *payload
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		v, _, err := Fetch(context.Background(), c, key, time.Minute, func(context.Context) (*payload, error) {
			return nil, errors.New("second compute must not run")
		})
		second <- outcome{v, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	if err := <-firstErr; err != nil {
		t.Fatalf("first fetch err = %v", err)
	}
	got := <-second
	if got.err != nil || got.v == nil || got.v.Title != "Cup" {
		t.Fatalf("second fetch = %+v, %v", got.v, got.err)
	}
}

func TestFetchDoesNotCacheErrors(t *testing.T) {
	c, store, _ := newTestCache(t)
	boom := errors.New("boom")
	_, _, err := Fetch(context.Background(), c, Key{Service: "svc"}, time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if store.Len() != 0 {
		t.Fatalf("failed results must not be stored")
	}
}

func TestFetchBypassesDisabledCache(t *testing.T) {
	tests := []struct {
		name  string
		cache func(t *testing.T) *Cache
		ttl   time.Duration
	}{
		{"nil cache", func(*testing.T) *Cache { return nil }, time.Minute},
		{"disabled", func(t *testing.T) *Cache {
			c, _, _ := newTestCache(t)
			c.config.Enabled = false
			return c
		}, time.Minute},
		{"zero ttl", func(t *testing.T) *Cache {
			c, _, _ := newTestCache(t)
			return c
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.cache(t)
			calls := 0
			for i := 0; i < 2; i++ {
				_, fromCache, err := Fetch(context.Background(), c, Key{Service: "svc"}, tt.ttl, func(context.Context) (int, error) {
					calls++
					return 1, nil
				})
				if err != nil || fromCache {
					t.Fatalf("fetch = %v, %v", fromCache, err)
				}
			}
			if calls != 2 {
				t.Fatalf("calls = %d, want 2", calls)
			}
		})
	}
}

type failingStore struct {
	*MemoryStore
}

func (s *failingStore) Get(context.Context, Key, time.Time) ([]byte, time.Duration, bool, error) {
	return nil, 0, false, errors.New("store down")
}

func TestFetchFallsThroughOnStoreError(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	c := New(store, &config.CacheConfig{Enabled: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	v, fromCache, err := Fetch(context.Background(), c, Key{Service: "svc"}, time.Minute, func(context.Context) (string, error) {
		return "fresh", nil
	})
	if err != nil || fromCache || v != "fresh" {
		t.Fatalf("fetch = %q, %v, %v", v, fromCache, err)
	}
}

func TestMetricsCountLookups(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	c, _, _ := newTestCache(t, WithMetrics(metrics))
	ctx := context.Background()
	key := Key{Service: "svc"}

	_, _, _ = c.Get(ctx, key)
	_ = c.Put(ctx, key, []byte("1"), time.Minute)
	_, _, _ = c.Get(ctx, key)

	if got := testutil.ToFloat64(metrics.lookups.WithLabelValues("svc", "hit")); got != 1 {
		t.Fatalf("hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.lookups.WithLabelValues("svc", "miss")); got != 1 {
		t.Fatalf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.puts); got != 1 {
		t.Fatalf("puts = %v, want 1", got)
	}
}

func TestFilterMatches(t *testing.T) {
	key := Key{Service: "X", Scope: Scope{TournamentID: "A", TeamID: "1", GameCode: "SC2"}}
	tests := []struct {
		filter Filter
		want   bool
	}{
		{Filter{}, true},
		{Filter{Service: "X"}, true},
		{Filter{Service: "Y"}, false},
		{Filter{TournamentID: "A", GameCode: "SC2"}, true},
		{Filter{TournamentID: "A", GameCode: "WC3"}, false},
		{Filter{TeamID: "2"}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(key); got != tt.want {
			t.Fatalf("%+v.Matches = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestFilterOverlaps(t *testing.T) {
	tests := []struct {
		a, b Filter
		want bool
	}{
		{Filter{}, Filter{TournamentID: "A"}, true},
		{Filter{TournamentID: "A"}, Filter{TournamentID: "A", TeamID: "1"}, true},
		{Filter{TournamentID: "A"}, Filter{TournamentID: "B"}, false},
		{Filter{TeamID: "1"}, Filter{TournamentID: "A"}, true},
		{Filter{Service: "X", GameCode: "SC2"}, Filter{GameCode: "WC3"}, false},
	}
	for _, tt := range tests {
		if got := tt.a.Overlaps(tt.b); got != tt.want {
			t.Fatalf("%+v.Overlaps(%+v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := tt.b.Overlaps(tt.a); got != tt.want {
			t.Fatalf("overlap must be symmetric for %+v and %+v", tt.a, tt.b)
		}
	}
}
