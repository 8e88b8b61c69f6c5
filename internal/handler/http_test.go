package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/service"
	"github.com/tourney-sync/internal/tourney"
	"github.com/tourney-sync/internal/transport/transporttest"
	"github.com/tourney-sync/internal/websocket"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router http.Handler
	cache  *cache.Cache
	store  *cache.MemoryStore
	fake   *transporttest.Fake
}

func newTestServer(t *testing.T, store Pinger) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := transporttest.New().
		Reply(tourney.SvcGameMaps, map[string]any{"maps": []any{map[string]any{"map_id": float64(3), "map": "Metalopolis"}}}).
		Reply(tourney.SvcTourneyLoad, map[string]any{"tourney_data": map[string]any{"tourney_id": "T1", "title": "Spring Cup"}}).
		Fail(tourney.SvcTourneyList, 403)

	memory := cache.NewMemoryStore()
	cfg := config.DefaultConfig()
	reg := prometheus.NewRegistry()
	c := cache.New(memory, &cfg.Cache, logger, cache.WithMetrics(cache.NewMetrics(reg)))
	client, err := service.NewClient(fake, c, cfg, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	hub := websocket.NewHub(logger)
	h := NewHandler(client, c, hub, store, reg, logger)
	return &testServer{router: h.Router(), cache: c, store: memory, fake: fake}
}

func (s *testServer) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v", method, target, err)
		}
	}
	return rec, resp
}

func TestHealthAndReady(t *testing.T) {
	healthy := newTestServer(t, pingFunc(func(context.Context) error { return nil }))
	if rec, _ := healthy.do(t, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	if rec, _ := healthy.do(t, http.MethodGet, "/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}

	down := newTestServer(t, pingFunc(func(context.Context) error { return errors.New("refused") }))
	if rec, resp := down.do(t, http.MethodGet, "/ready"); rec.Code != http.StatusServiceUnavailable || resp.Success {
		t.Fatalf("ready = %d %+v", rec.Code, resp)
	}
}

func TestLookupAndInvalidate(t *testing.T) {
	s := newTestServer(t, nil)

	if rec, _ := s.do(t, http.MethodGet, "/api/v1/cache/lookup?service="+tourney.SvcGameMaps+"&game_code=SC2"); rec.Code != http.StatusNotFound {
		t.Fatalf("lookup before fetch = %d", rec.Code)
	}
	if rec, _ := s.do(t, http.MethodGet, "/api/v1/games/SC2/maps"); rec.Code != http.StatusOK {
		t.Fatalf("maps = %d", rec.Code)
	}
	rec, resp := s.do(t, http.MethodGet, "/api/v1/cache/lookup?service="+tourney.SvcGameMaps+"&game_code=SC2")
	if rec.Code != http.StatusOK || !resp.Success {
		t.Fatalf("lookup = %d %+v", rec.Code, resp)
	}
	if !strings.Contains(rec.Body.String(), "Metalopolis") {
		t.Fatalf("lookup body = %s", rec.Body.String())
	}

	rec, resp = s.do(t, http.MethodDelete, "/api/v1/cache?game_code=SC2")
	if rec.Code != http.StatusOK {
		t.Fatalf("invalidate = %d", rec.Code)
	}
	if data, _ := resp.Data.(map[string]any); data["removed"] != float64(1) {
		t.Fatalf("invalidate data = %v", resp.Data)
	}
	if s.store.Len() != 0 {
		t.Fatalf("rows = %d", s.store.Len())
	}
}

func TestLookupRequiresService(t *testing.T) {
	s := newTestServer(t, nil)
	if rec, _ := s.do(t, http.MethodGet, "/api/v1/cache/lookup?tournament_id=T1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("lookup = %d", rec.Code)
	}
}

func TestSweep(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	if err := s.cache.Put(ctx, cache.Key{Service: "old"}, []byte(`{}`), -time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	rec, resp := s.do(t, http.MethodPost, "/api/v1/cache/sweep")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep = %d", rec.Code)
	}
	if data, _ := resp.Data.(map[string]any); data["removed"] != float64(1) {
		t.Fatalf("sweep data = %v", resp.Data)
	}
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"remote failure", "/api/v1/tournaments", http.StatusBadGateway},
		{"empty search", "/api/v1/games?q=", http.StatusBadRequest},
		{"unhandled service", "/api/v1/games?q=starcraft", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec, _ := s.do(t, http.MethodGet, tt.target); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetTournament(t *testing.T) {
	s := newTestServer(t, nil)
	rec, resp := s.do(t, http.MethodGet, "/api/v1/tournaments/T1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if data, _ := resp.Data.(map[string]any); data["title"] != "Spring Cup" {
		t.Fatalf("data = %v", resp.Data)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodGet, "/api/v1/games/SC2/maps")
	s.do(t, http.MethodGet, "/api/v1/games/SC2/maps")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tourney_cache_lookups_total") {
		t.Fatalf("metrics body lacks cache counters")
	}
}
