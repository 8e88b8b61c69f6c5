package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/tourney"
	"github.com/tourney-sync/internal/transport/transporttest"
)

func newTestClient(t *testing.T, fake *transporttest.Fake, entities map[string]string) (*Client, *cache.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.NewMemoryStore()
	cfg := config.DefaultConfig()
	cfg.Entities = entities
	c := cache.New(store, &cfg.Cache, logger)
	client, err := NewClient(fake, c, cfg, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, store
}

func TestNewClientRejectsUnknownVariant(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Entities = map[string]string{"match": "lenient"}
	if _, err := NewClient(transporttest.New(), nil, cfg, nil); err == nil {
		t.Fatalf("expected error for unknown variant")
	}
}

func TestGameMapsServedFromCache(t *testing.T) {
	fake := transporttest.New().Reply(tourney.SvcGameMaps, map[string]any{
		"maps": []any{
			map[string]any{"map_id": float64(1), "map": "Lost Temple"},
			map[string]any{"map_id": float64(2), "map": "Python"},
		},
	})
	client, _ := newTestClient(t, fake, nil)
	ctx := context.Background()

	first, err := client.GameMaps(ctx, "SC2")
	if err != nil {
		t.Fatalf("GameMaps: %v", err)
	}
	if first.FromCache || len(first.Items) != 2 {
		t.Fatalf("first = %+v", first)
	}
	second, err := client.GameMaps(ctx, "SC2")
	if err != nil {
		t.Fatalf("GameMaps: %v", err)
	}
	if !second.FromCache || second.Items[1]["map"] != "Python" {
		t.Fatalf("second = %+v", second)
	}
	if n := fake.Count(tourney.SvcGameMaps); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}

	if _, err := client.GameMaps(ctx, ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty code err = %v", err)
	}
}

func TestGameSearchNormalizesQuery(t *testing.T) {
	fake := transporttest.New().Reply(tourney.SvcGameSearch, map[string]any{
		"games": []any{map[string]any{"game_code": "SC2", "game": "StarCraft II"}},
	})
	client, _ := newTestClient(t, fake, nil)
	ctx := context.Background()

	for _, q := range []string{"StarCraft", " starcraft "} {
		if _, err := client.GameSearch(ctx, q); err != nil {
			t.Fatalf("GameSearch(%q): %v", q, err)
		}
	}
	if n := fake.Count(tourney.SvcGameSearch); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
	if got := fake.Calls()[0].Args["game"]; got != "starcraft" {
		t.Fatalf("query = %v", got)
	}
}

func TestRemoteFailuresAreNotCached(t *testing.T) {
	fake := transporttest.New().Fail(tourney.SvcTourneyList, 401)
	client, store := newTestClient(t, fake, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.ListMyTournaments(ctx, "")
		var remote *domain.RemoteFailure
		if !errors.As(err, &remote) || remote.Code != 401 {
			t.Fatalf("err = %v, want RemoteFailure 401", err)
		}
	}
	if n := fake.Count(tourney.SvcTourneyList); n != 2 || store.Len() != 0 {
		t.Fatalf("calls = %d rows = %d", n, store.Len())
	}
}

func TestCreateThenListIsInvalidated(t *testing.T) {
	fake := transporttest.New().
		Reply(tourney.SvcTourneyList, map[string]any{"list": []any{map[string]any{"tourney_id": "T0"}}}).
		Reply(tourney.SvcTourneyCreate, map[string]any{"tourney_id": "T1"})
	client, _ := newTestClient(t, fake, nil)
	ctx := context.Background()

	if _, err := client.ListMyTournaments(ctx, ""); err != nil {
		t.Fatalf("List: %v", err)
	}
	tour, err := client.NewTournament("Winter Cup")
	if err != nil {
		t.Fatalf("NewTournament: %v", err)
	}
	if err := tour.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	list, err := client.ListMyTournaments(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.FromCache {
		t.Fatalf("creating a tournament must invalidate the list")
	}
	if n := fake.Count(tourney.SvcTourneyList); n != 2 {
		t.Fatalf("list calls = %d, want 2", n)
	}
}

func TestTournamentHandleLoadsLazily(t *testing.T) {
	fake := transporttest.New().Reply(tourney.SvcTourneyLoad, map[string]any{
		"tourney_data": map[string]any{"tourney_id": "T1", "title": "Spring Cup", "game_code": "SC2"},
	})
	client, _ := newTestClient(t, fake, nil)

	tour, err := client.Tournament("T1")
	if err != nil {
		t.Fatalf("Tournament: %v", err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("opening a handle must not call the service")
	}
	v, err := tour.Get(context.Background(), "game_code")
	if err != nil || v != "SC2" {
		t.Fatalf("Get = %v, %v", v, err)
	}
	loaded, err := client.LoadTournament(context.Background(), "T1")
	if err != nil || loaded.Title() != "Spring Cup" {
		t.Fatalf("LoadTournament = %v, %v", loaded, err)
	}
	if n := fake.Count(tourney.SvcTourneyLoad); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
}

func TestMatchLoadBypassesCache(t *testing.T) {
	fake := transporttest.New().Reply(tourney.SvcMatchLoad, map[string]any{
		"match_info": map[string]any{"tourney_match_id": "9", "tourney_team_id": "A", "o_tourney_team_id": "B"},
		"games":      []any{},
	})
	client, store := newTestClient(t, fake, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m, err := client.Match(ctx, "9")
		if err != nil || m.TeamID() != "A" {
			t.Fatalf("Match = %v, %v", m, err)
		}
	}
	if n := fake.Count(tourney.SvcMatchLoad); n != 2 || store.Len() != 0 {
		t.Fatalf("loads = %d rows = %d", n, store.Len())
	}
}

func TestClearCache(t *testing.T) {
	fake := transporttest.New().Reply(tourney.SvcGameMaps, map[string]any{"maps": []any{}})
	client, store := newTestClient(t, fake, nil)
	ctx := context.Background()
	_, _ = client.GameMaps(ctx, "SC2")
	_, _ = client.GameMaps(ctx, "WC3")

	n, err := client.ClearCache(ctx, cache.Filter{GameCode: "SC2"})
	if err != nil || n != 1 || store.Len() != 1 {
		t.Fatalf("ClearCache = %d, %v; rows = %d", n, err, store.Len())
	}

	noCache, err := NewClient(fake, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := noCache.ClearCache(ctx, cache.Filter{}); !errors.Is(err, domain.ErrCacheUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestDefaultConfigUsesServicePolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.DefaultConfig()
	cfg.Cache.TTLs[tourney.SvcGameMaps] = time.Minute
	c := cache.New(cache.NewMemoryStore(), &cfg.Cache, logger, cache.WithClock(func() time.Time { return now }))
	fake := transporttest.New().Reply(tourney.SvcGameSearch, map[string]any{"games": []any{}})
	client, err := NewClient(fake, c, cfg, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if got := c.TTL(tourney.SvcGameSearch); got != 24*time.Hour {
		t.Fatalf("search ttl = %v, want 24h", got)
	}
	if got := c.TTL(tourney.SvcGameMaps); got != time.Minute {
		t.Fatalf("configured maps ttl = %v, want 1m", got)
	}

	ctx := context.Background()
	if _, err := client.GameSearch(ctx, "sc2"); err != nil {
		t.Fatalf("GameSearch: %v", err)
	}
	now = now.Add(23 * time.Hour)
	res, err := client.GameSearch(ctx, "sc2")
	if err != nil || !res.FromCache {
		t.Fatalf("GameSearch after 23h = %+v, %v; want cached", res, err)
	}
	if n := fake.Count(tourney.SvcGameSearch); n != 1 {
		t.Fatalf("calls = %d, want 1", n)
	}
}
