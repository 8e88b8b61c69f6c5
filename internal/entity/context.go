package entity

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/transport"
)

// Context carries the collaborators every entity needs. It replaces any
// process-wide client state: each tree is bound to the Context it was
// created with.
type Context struct {
	Transport transport.Transport
	Cache     *cache.Cache
	Registry  *Registry
	Logger    *slog.Logger
}

// NewContext creates a context. A nil cache disables caching.
func NewContext(t transport.Transport, c *cache.Cache, r *Registry, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		r = NewRegistry()
	}
	return &Context{
		Transport: t,
		Cache:     c,
		Registry:  r,
		Logger:    logger,
	}
}

// New creates a NEW entity of a registered kind.
func (c *Context) New(kind Kind) (*Entity, error) {
	b, err := c.Registry.Behavior(kind)
	if err != nil {
		return nil, err
	}
	return New(c, b), nil
}

// Open creates an unloaded handle for an existing entity of a registered kind.
func (c *Context) Open(kind Kind, id string) (*Entity, error) {
	b, err := c.Registry.Behavior(kind)
	if err != nil {
		return nil, err
	}
	return Open(c, b, id), nil
}

// Call sends a request straight to the transport. A result code other than
// success becomes a *domain.RemoteFailure.
func (c *Context) Call(ctx context.Context, req Request) (*transport.Result, error) {
	start := time.Now()
	res, err := c.Transport.Call(ctx, req.Service, req.Args)
	if err != nil {
		var tf *domain.TransportFailure
		if !errors.As(err, &tf) {
			err = &domain.TransportFailure{Service: req.Service, Err: err}
		}
		c.Logger.Warn("service call failed", "service", req.Service, "error", err)
		return nil, err
	}
	if !res.OK() {
		failure := &domain.RemoteFailure{Service: req.Service, Code: res.Code, Message: res.Message()}
		c.Logger.Warn("service rejected call", "service", req.Service, "code", res.Code, "message", failure.Message)
		return nil, failure
	}
	c.Logger.Debug("service call", "service", req.Service, "duration", time.Since(start))
	return res, nil
}

// Fetch sends a read request through the response cache. Only successful
// results are cached.
func (c *Context) Fetch(ctx context.Context, req Request) (*transport.Result, error) {
	var ttl time.Duration
	if !req.NoCache {
		ttl = c.Cache.TTL(req.Service)
	}
	key := cache.Key{Service: req.Service, Scope: req.Scope}
	res, fromCache, err := cache.Fetch(ctx, c.Cache, key, ttl, func(ctx context.Context) (*transport.Result, error) {
		return c.Call(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	out := *res
	out.FromCache = fromCache
	return &out, nil
}

// Invalidate drops cached results. Failures are logged: the remote change
// already happened and the stale rows still expire on their own.
func (c *Context) Invalidate(ctx context.Context, filters ...cache.Filter) {
	if !c.Cache.Enabled() {
		return
	}
	for _, f := range filters {
		if _, err := c.Cache.Invalidate(ctx, f); err != nil {
			c.Logger.Warn("cache invalidation failed", "service", f.Service, "tournament_id", f.TournamentID, "error", err)
		}
	}
}
