// Package websocket streams cache invalidations and sweeps to connected
// clients. Each client follows any number of cache filters and receives the
// events whose scope overlaps one of them.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tourney-sync/internal/cache"
)

// Message types
const (
	MessageTypeInvalidated  = "cache_invalidated"
	MessageTypeSwept        = "cache_swept"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// Message is one frame sent to a client.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CacheChange is the payload of cache event messages.
type CacheChange struct {
	Filter  cache.Filter `json:"filter"`
	Removed int64        `json:"removed"`
	Remote  bool         `json:"remote"`
}

// event is an encoded frame together with the cache rows it concerns.
type event struct {
	scope cache.Filter
	frame []byte
}

type follow struct {
	client *Client
	filter cache.Filter
}

// Hub tracks connected clients and the filters each one follows. All
// membership changes go through Run so delivery never races a subscribe.
type Hub struct {
	// follows holds every connected client, with the filters it follows.
	follows map[*Client][]cache.Filter
	mu      sync.RWMutex

	join   chan *Client
	leave  chan *Client
	add    chan follow
	remove chan follow
	events chan event

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub. Call Run to start delivering events.
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		follows: make(map[*Client][]cache.Filter),
		join:    make(chan *Client),
		leave:   make(chan *Client),
		add:     make(chan follow, 64),
		remove:  make(chan follow, 64),
		events:  make(chan event, 256),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run applies membership changes and delivers events until Stop.
func (h *Hub) Run() {
	h.logger.Info("event stream hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("event stream hub stopping")
			return

		case c := <-h.join:
			h.mu.Lock()
			h.follows[c] = nil
			h.mu.Unlock()
			h.logger.Debug("client connected", "client_id", c.id)

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.follows[c]; ok {
				delete(h.follows, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "client_id", c.id)

		case f := <-h.add:
			h.mu.Lock()
			if filters, ok := h.follows[f.client]; ok && !slices.Contains(filters, f.filter) {
				h.follows[f.client] = append(filters, f.filter)
			}
			h.mu.Unlock()
			h.logger.Debug("client following", "client_id", f.client.id, "filter", f.filter)

		case f := <-h.remove:
			h.mu.Lock()
			if filters, ok := h.follows[f.client]; ok {
				h.follows[f.client] = slices.DeleteFunc(filters, func(x cache.Filter) bool { return x == f.filter })
			}
			h.mu.Unlock()

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// Stop ends Run. Clients still connected stop receiving events.
func (h *Hub) Stop() {
	h.cancel()
}

// deliver sends an event to every client following an overlapping filter.
// Unscoped events, such as sweeps and full clears, reach every client.
func (h *Hub) deliver(ev event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c, filters := range h.follows {
		if !ev.scope.IsZero() && !overlapsAny(filters, ev.scope) {
			continue
		}
		select {
		case c.send <- ev.frame:
		default:
			h.logger.Warn("client send buffer full, dropping event", "client_id", c.id)
		}
	}
}

func overlapsAny(filters []cache.Filter, scope cache.Filter) bool {
	for _, f := range filters {
		if f.Overlaps(scope) {
			return true
		}
	}
	return false
}

// OnCacheEvent encodes a cache event and queues it for delivery. It never
// blocks the cache; events are dropped when the queue is full.
func (h *Hub) OnCacheEvent(_ context.Context, e cache.Event) {
	msgType := MessageTypeInvalidated
	if e.Type == cache.EventSwept {
		msgType = MessageTypeSwept
	}
	frame, err := json.Marshal(Message{
		Type:      msgType,
		Data:      CacheChange{Filter: e.Filter, Removed: e.Removed, Remote: e.Remote},
		Timestamp: e.At,
	})
	if err != nil {
		h.logger.Error("failed to encode cache event", "error", err)
		return
	}
	select {
	case h.events <- event{scope: e.Filter, frame: frame}:
	default:
		h.logger.Warn("event queue full, dropping cache event", "type", e.Type, "filter", e.Filter)
	}
}

var _ cache.Listener = (*Hub)(nil)

// Register adds a connected client.
func (h *Hub) Register(c *Client) {
	select {
	case h.join <- c:
	case <-h.ctx.Done():
	}
}

// Unregister drops a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.leave <- c:
	case <-h.ctx.Done():
	}
}

// Subscribe makes a client follow a filter. Following the same filter twice
// has no effect.
func (h *Hub) Subscribe(c *Client, f cache.Filter) {
	select {
	case h.add <- follow{client: c, filter: f}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe stops a client following a filter it subscribed with.
func (h *Hub) Unsubscribe(c *Client, f cache.Filter) {
	select {
	case h.remove <- follow{client: c, filter: f}:
	case <-h.ctx.Done():
	}
}

// Watchers returns how many clients would receive an event scoped to f.
func (h *Hub) Watchers(f cache.Filter) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if f.IsZero() {
		return len(h.follows)
	}
	n := 0
	for _, filters := range h.follows {
		if overlapsAny(filters, f) {
			n++
		}
	}
	return n
}

// Subscriptions returns the number of filters followed across all clients.
func (h *Hub) Subscriptions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, filters := range h.follows {
		n += len(filters)
	}
	return n
}

// Connections returns the number of connected clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.follows)
}
