// Package cache stores service results keyed by service name and scope, with
// TTL expiry and bulk invalidation over any subset of the scope dimensions.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Scope narrows a cached result. Empty dimensions are absent.
type Scope struct {
	TournamentID string `json:"tournament_id,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	GameCode     string `json:"game_code,omitempty"`
}

// Key identifies one cache entry. Point lookups match every dimension
// exactly, so an absent dimension only matches an absent dimension.
type Key struct {
	Service string `json:"service"`
	Scope
}

// String renders the key for logs and singleflight.
func (k Key) String() string {
	return fmt.Sprintf("%s|t=%s|team=%s|game=%s", k.Service, k.TournamentID, k.TeamID, k.GameCode)
}

// Filter selects entries for bulk invalidation. Empty dimensions match any
// value; the zero Filter matches everything.
type Filter struct {
	Service      string `json:"service,omitempty"`
	TournamentID string `json:"tournament_id,omitempty"`
	TeamID       string `json:"team_id,omitempty"`
	GameCode     string `json:"game_code,omitempty"`
}

// IsZero reports whether the filter matches every entry.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Matches reports whether an entry key is selected by the filter.
func (f Filter) Matches(k Key) bool {
	return (f.Service == "" || f.Service == k.Service) &&
		(f.TournamentID == "" || f.TournamentID == k.TournamentID) &&
		(f.TeamID == "" || f.TeamID == k.TeamID) &&
		(f.GameCode == "" || f.GameCode == k.GameCode)
}

// Overlaps reports whether some key could be selected by both filters, that
// is whether no dimension is set to different values in each.
func (f Filter) Overlaps(o Filter) bool {
	same := func(a, b string) bool { return a == "" || b == "" || a == b }
	return same(f.Service, o.Service) &&
		same(f.TournamentID, o.TournamentID) &&
		same(f.TeamID, o.TeamID) &&
		same(f.GameCode, o.GameCode)
}

// Condition is one column equality of a filter, for SQL stores.
type Condition struct {
	Column string
	Value  string
}

// Conditions returns the set dimensions of the filter as column equalities,
// in a stable order. The zero filter has none.
func (f Filter) Conditions() []Condition {
	var out []Condition
	for _, c := range []Condition{
		{"service", f.Service},
		{"tournament_id", f.TournamentID},
		{"team_id", f.TeamID},
		{"game_code", f.GameCode},
	} {
		if c.Value != "" {
			out = append(out, c)
		}
	}
	return out
}

// Entry is one stored row.
type Entry struct {
	Key       Key
	Payload   []byte
	ExpiresAt time.Time
}

// Store persists cache rows.
//
// Get returns the row for exactly the given key together with the time left
// until expiry, computed against now at query time; the remaining duration
// may be zero or negative for rows that have expired but were not swept.
type Store interface {
	Get(ctx context.Context, key Key, now time.Time) (payload []byte, remaining time.Duration, found bool, err error)
	Put(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, filter Filter) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}
