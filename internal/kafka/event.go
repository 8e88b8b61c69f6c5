// Package kafka carries cache invalidations between processes that share a
// cache store, or that keep their own stores for the same tournaments.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tourney-sync/internal/cache"
)

// InvalidationEvent is the message published for every local invalidation
type InvalidationEvent struct {
	ID     uuid.UUID    `json:"id"`
	Origin string       `json:"origin"`
	Filter cache.Filter `json:"filter"`
	At     time.Time    `json:"at"`
}

// messageKey partitions events by tournament so a tournament's
// invalidations stay ordered.
func (e InvalidationEvent) messageKey() string {
	if e.Filter.TournamentID != "" {
		return e.Filter.TournamentID
	}
	return "*"
}

func decodeEvent(value []byte) (InvalidationEvent, error) {
	var event InvalidationEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, fmt.Errorf("unmarshaling invalidation event: %w", err)
	}
	if event.ID == uuid.Nil || event.Origin == "" {
		return event, fmt.Errorf("invalidation event missing id or origin")
	}
	return event, nil
}
