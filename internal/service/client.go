// Package service is the public face of the SDK: thin wrappers that open
// entity trees and run cached read calls.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/entity"
	"github.com/tourney-sync/internal/tourney"
	"github.com/tourney-sync/internal/transport"
)

// Listing is the result of a list service.
type Listing struct {
	Items     []map[string]any `json:"items"`
	FromCache bool             `json:"from_cache"`
}

// Client provides the tournament operations
type Client struct {
	ctx    *entity.Context
	cache  *cache.Cache
	logger *slog.Logger
}

// NewClient creates a client. Entity variants are resolved once, here, from
// the entities section of the configuration.
func NewClient(t transport.Transport, c *cache.Cache, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	registry := tourney.NewRegistry()
	if cfg != nil {
		if err := registry.Select(cfg.Entities); err != nil {
			return nil, fmt.Errorf("selecting entity variants: %w", err)
		}
		seedTTLs(&cfg.Cache)
	}
	ctx := entity.NewContext(t, c, registry, logger)
	return &Client{
		ctx:    ctx,
		cache:  c,
		logger: ctx.Logger,
	}, nil
}

// seedTTLs fills in the built-in cache policy for every read service the
// configuration leaves out.
func seedTTLs(c *config.CacheConfig) {
	if c.TTLs == nil {
		c.TTLs = make(map[string]time.Duration, len(tourney.DefaultTTLs))
	}
	for svc, ttl := range tourney.DefaultTTLs {
		if _, ok := c.TTLs[svc]; !ok {
			c.TTLs[svc] = ttl
		}
	}
}

// Context returns the entity context shared by every tree the client opens.
func (c *Client) Context() *entity.Context {
	return c.ctx
}

// NewTournament starts a NEW tournament. It is created on Save.
func (c *Client) NewTournament(title string) (*tourney.Tournament, error) {
	e, err := c.ctx.New(tourney.KindTournament)
	if err != nil {
		return nil, err
	}
	if err := e.Set("title", title); err != nil {
		return nil, err
	}
	return tourney.AsTournament(e), nil
}

// Tournament returns an unloaded handle; fields load on first Get.
func (c *Client) Tournament(id string) (*tourney.Tournament, error) {
	e, err := c.ctx.Open(tourney.KindTournament, id)
	if err != nil {
		return nil, err
	}
	return tourney.AsTournament(e), nil
}

// LoadTournament opens and loads a tournament.
func (c *Client) LoadTournament(ctx context.Context, id string) (*tourney.Tournament, error) {
	t, err := c.Tournament(id)
	if err != nil {
		return nil, err
	}
	if err := t.Load(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// Team returns an unloaded team handle.
func (c *Client) Team(id string) (*tourney.Team, error) {
	e, err := c.ctx.Open(tourney.KindTeam, id)
	if err != nil {
		return nil, err
	}
	return tourney.AsTeam(e), nil
}

// Match opens and loads a reported match with its games.
func (c *Client) Match(ctx context.Context, id string) (*tourney.Match, error) {
	e, err := c.ctx.Open(tourney.KindMatch, id)
	if err != nil {
		return nil, err
	}
	if err := e.Load(ctx); err != nil {
		return nil, err
	}
	return tourney.AsMatch(e), nil
}

// ListMyTournaments lists the tournaments created with the configured key.
func (c *Client) ListMyTournaments(ctx context.Context, filter string) (*Listing, error) {
	req := entity.Request{
		Service: tourney.SvcTourneyList,
		Args:    map[string]any{},
	}
	if filter != "" {
		req.Args["filter"] = filter
		// Filtered lists are not cached: the key has no dimension for them.
		req.NoCache = true
	}
	return c.list(ctx, req, "list")
}

// GameSearch finds games by name or code.
func (c *Client) GameSearch(ctx context.Context, query string) (*Listing, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil, domain.Invalid("game", "search", fmt.Errorf("%w: empty query", domain.ErrInvalidRequest))
	}
	return c.list(ctx, entity.Request{
		Service: tourney.SvcGameSearch,
		Args:    map[string]any{"game": query},
		Scope:   cache.Scope{GameCode: query},
	}, "games")
}

// GameMaps lists the maps of a game.
func (c *Client) GameMaps(ctx context.Context, gameCode string) (*Listing, error) {
	if gameCode == "" {
		return nil, domain.Invalid("game", "maps", fmt.Errorf("%w: empty game code", domain.ErrInvalidRequest))
	}
	return c.list(ctx, entity.Request{
		Service: tourney.SvcGameMaps,
		Args:    map[string]any{"game_code": gameCode},
		Scope:   cache.Scope{GameCode: gameCode},
	}, "maps")
}

// ClearCache drops cached results. The zero filter clears everything.
func (c *Client) ClearCache(ctx context.Context, filter cache.Filter) (int64, error) {
	if c.cache == nil {
		return 0, domain.ErrCacheUnavailable
	}
	n, err := c.cache.Invalidate(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("clearing cache: %w", err)
	}
	c.logger.Info("cache cleared", "service", filter.Service, "tournament_id", filter.TournamentID, "removed", n)
	return n, nil
}

func (c *Client) list(ctx context.Context, req entity.Request, key string) (*Listing, error) {
	res, err := c.ctx.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", req.Service, err)
	}
	items := res.List(key)
	if items == nil {
		items = []map[string]any{}
	}
	return &Listing{Items: items, FromCache: res.FromCache}, nil
}
