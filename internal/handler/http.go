package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/service"
	"github.com/tourney-sync/internal/websocket"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides the admin HTTP API of the cache daemon
type Handler struct {
	client   *service.Client
	cache    *cache.Cache
	hub      *websocket.Hub
	store    Pinger
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewHandler creates a new HTTP handler. store and gatherer may be nil.
func NewHandler(
	client *service.Client,
	c *cache.Cache,
	hub *websocket.Hub,
	store Pinger,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		client:   client,
		cache:    c,
		hub:      hub,
		store:    store,
		gatherer: gatherer,
		logger:   logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cache", func(r chi.Router) {
			r.Get("/lookup", h.LookupEntry)
			r.Delete("/", h.InvalidateCache)
			r.Post("/sweep", h.SweepCache)
		})

		r.Get("/tournaments", h.ListTournaments)
		r.Get("/tournaments/{tournamentID}", h.GetTournament)
		r.Get("/games", h.SearchGames)
		r.Get("/games/{gameCode}/maps", h.GetGameMaps)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps SDK errors onto HTTP statuses
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsClientError(err):
		h.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrCacheUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, domain.ErrRemote), errors.Is(err, domain.ErrTransport):
		h.logger.Warn("tournament service call failed", "op", op, "error", err)
		h.writeError(w, http.StatusBadGateway, err)
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]any{
		"total_connections":   h.hub.Connections(),
		"total_subscriptions": h.hub.Subscriptions(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the cache store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("cache store not ready", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, errors.New("cache store unavailable"))
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// filterFromQuery reads the scope dimensions shared by lookup and invalidate
func filterFromQuery(r *http.Request) cache.Filter {
	q := r.URL.Query()
	return cache.Filter{
		Service:      q.Get("service"),
		TournamentID: q.Get("tournament_id"),
		TeamID:       q.Get("team_id"),
		GameCode:     q.Get("game_code"),
	}
}

// LookupEntry returns the live cache entry for exactly the given key
func (h *Handler) LookupEntry(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeServiceError(w, "lookup", domain.ErrCacheUnavailable)
		return
	}
	f := filterFromQuery(r)
	if f.Service == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	key := cache.Key{
		Service: f.Service,
		Scope:   cache.Scope{TournamentID: f.TournamentID, TeamID: f.TeamID, GameCode: f.GameCode},
	}
	payload, found, err := h.cache.Get(r.Context(), key)
	if err != nil {
		h.writeServiceError(w, "lookup", err)
		return
	}
	if !found {
		h.writeError(w, http.StatusNotFound, errors.New("no live cache entry"))
		return
	}
	h.writeSuccess(w, map[string]any{
		"key":   key,
		"value": json.RawMessage(payload),
	})
}

// InvalidateCache deletes the entries selected by the query. No parameters
// clears the whole cache.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	filter := filterFromQuery(r)
	n, err := h.client.ClearCache(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, "invalidate", err)
		return
	}
	h.writeSuccess(w, map[string]any{
		"filter":  filter,
		"removed": n,
	})
}

// SweepCache removes expired entries now
func (h *Handler) SweepCache(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeServiceError(w, "sweep", domain.ErrCacheUnavailable)
		return
	}
	n, err := h.cache.SweepExpired(r.Context())
	if err != nil {
		h.writeServiceError(w, "sweep", err)
		return
	}
	h.writeSuccess(w, map[string]any{"removed": n})
}

// ListTournaments lists the tournaments of the configured key
func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	listing, err := h.client.ListMyTournaments(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.writeServiceError(w, "list tournaments", err)
		return
	}
	h.writeSuccess(w, listing)
}

// GetTournament returns the fields of one tournament
func (h *Handler) GetTournament(w http.ResponseWriter, r *http.Request) {
	t, err := h.client.LoadTournament(r.Context(), chi.URLParam(r, "tournamentID"))
	if err != nil {
		h.writeServiceError(w, "load tournament", err)
		return
	}
	h.writeSuccess(w, t.Fields())
}

// SearchGames finds games by name
func (h *Handler) SearchGames(w http.ResponseWriter, r *http.Request) {
	listing, err := h.client.GameSearch(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, "search games", err)
		return
	}
	h.writeSuccess(w, listing)
}

// GetGameMaps lists the maps of a game
func (h *Handler) GetGameMaps(w http.ResponseWriter, r *http.Request) {
	listing, err := h.client.GameMaps(r.Context(), chi.URLParam(r, "gameCode"))
	if err != nil {
		h.writeServiceError(w, "game maps", err)
		return
	}
	h.writeSuccess(w, listing)
}
