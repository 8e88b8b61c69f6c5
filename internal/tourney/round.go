package tourney

import (
	"fmt"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/entity"
)

var roundSchema = &entity.Schema{
	Kind:     KindRound,
	Fields:   []string{"best_of", "map_id", "map", "date"},
	ReadOnly: []string{"tourney_id", "bracket", "round"},
	Defaults: map[string]any{"best_of": 1},
}

// Rounds have no id of their own: the remote key is the tournament id plus
// bracket and round number. The entity id is "bracket-round".
type roundBehavior struct{}

func (roundBehavior) Schema() *entity.Schema { return roundSchema }

func (roundBehavior) UpdateRequest(e *entity.Entity) (entity.Request, error) {
	tid := tournamentID(e)
	if tid == "" {
		return entity.Request{}, domain.Invalid(string(KindRound), "update", domain.ErrParentNotSaved)
	}
	return entity.Request{Service: SvcRoundUpdate, Args: args(roundArgs(e), "tourney_id", tid)}, nil
}

func (roundBehavior) Invalidations(e *entity.Entity) []cache.Filter {
	return []cache.Filter{{Service: SvcTourneyRounds, TournamentID: tournamentID(e)}}
}

func roundArgs(e *entity.Entity) map[string]any {
	return map[string]any{
		"bracket": e.Int("bracket"),
		"round":   e.Int("round"),
		"best_of": e.Int("best_of"),
		"map_id":  e.Value("map_id"),
		"date":    e.Value("date"),
	}
}

func roundID(bracket, round int) string {
	return fmt.Sprintf("%d-%d", bracket, round)
}

// Round holds the settings of one round of a bracket.
type Round struct {
	*entity.Entity
}

// AsRound wraps an entity of kind round.
func AsRound(e *entity.Entity) *Round {
	if e == nil {
		return nil
	}
	return &Round{Entity: e}
}

// Bracket returns the bracket the round belongs to.
func (r *Round) Bracket() int { return r.Int("bracket") }

// Number returns the round number within its bracket.
func (r *Round) Number() int { return r.Int("round") }

// BestOf returns the series length.
func (r *Round) BestOf() int { return r.Int("best_of") }

// SetBestOf changes the series length.
func (r *Round) SetBestOf(n int) error { return r.Set("best_of", n) }

// SetMap sets the map played in the round.
func (r *Round) SetMap(mapID string) error { return r.Set("map_id", mapID) }
