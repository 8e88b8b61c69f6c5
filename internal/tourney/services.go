// Package tourney defines the concrete tournament entities (tournaments,
// teams, rounds, matches and match games) on top of the entity tree.
package tourney

import (
	"time"

	"github.com/tourney-sync/internal/entity"
)

// Remote service names
const (
	SvcTourneyCreate      = "Tourney.TourneyCreate.Create"
	SvcTourneyUpdate      = "Tourney.TourneyUpdate.Settings"
	SvcTourneyDelete      = "Tourney.TourneyDelete.Delete"
	SvcTourneyLoad        = "Tourney.TourneyLoad.Info"
	SvcTourneyTeams       = "Tourney.TourneyLoad.Teams"
	SvcTourneyRounds      = "Tourney.TourneyLoad.Rounds"
	SvcTourneyOpenMatches = "Tourney.TourneyLoad.OpenMatches"
	SvcTourneyStart       = "Tourney.TourneyStart.Start"
	SvcTourneyList        = "Tourney.TourneyList.Creator"

	SvcTeamInsert    = "Tourney.TourneyTeam.Insert"
	SvcTeamUpdate    = "Tourney.TourneyTeam.Update"
	SvcTeamDelete    = "Tourney.TourneyTeam.Delete"
	SvcTeamLoad      = "Tourney.TourneyTeam.Load"
	SvcTeamConfirm   = "Tourney.TourneyTeam.Confirm"
	SvcTeamUnconfirm = "Tourney.TourneyTeam.Unconfirm"
	SvcTeamBan       = "Tourney.TourneyTeam.Ban"
	SvcTeamReportWin = "Tourney.TourneyTeam.ReportWin"

	SvcMatchLoad     = "Tourney.TourneyMatch.Load"
	SvcMatchUpdate   = "Tourney.TourneyMatch.Update"
	SvcMatchUnreport = "Tourney.TourneyMatch.Unreport"

	SvcGameReportBatch = "Tourney.TourneyMatchGame.ReportBatch"

	SvcRoundUpdate      = "Tourney.TourneyRound.Update"
	SvcRoundBatchUpdate = "Tourney.TourneyRound.BatchUpdate"

	SvcGameSearch = "Game.GameSearch.Search"
	SvcGameMaps   = "Game.GameList.Maps"
)

// Entity kinds
const (
	KindTournament entity.Kind = "tournament"
	KindTeam       entity.Kind = "team"
	KindRound      entity.Kind = "round"
	KindMatch      entity.Kind = "match"
	KindGame       entity.Kind = "game"
)

// Registry variants beyond the default
const (
	VariantUnbatched = "unbatched"
	VariantStrict    = "strict"
)

// Team status values as reported by the service.
const (
	TeamUnconfirmed = 0
	TeamConfirmed   = 1
	TeamBanned      = -3
)

// Brackets
const (
	BracketGroups  = 0
	BracketWinners = 1
	BracketLosers  = 2
	BracketFinals  = 3
	BracketBronze  = 4
)

// DefaultTTLs is the cache policy for the read services. Lists that change
// with every report are kept short; static game data is kept long.
var DefaultTTLs = map[string]time.Duration{
	SvcTourneyLoad:        30 * time.Minute,
	SvcTourneyTeams:       10 * time.Minute,
	SvcTourneyRounds:      30 * time.Minute,
	SvcTourneyOpenMatches: 2 * time.Minute,
	SvcTourneyList:        10 * time.Minute,
	SvcTeamLoad:           30 * time.Minute,
	SvcGameSearch:         24 * time.Hour,
	SvcGameMaps:           24 * time.Hour,
}

// Register adds every tournament kind and variant to a registry.
func Register(r *entity.Registry) {
	r.Register(KindTournament, entity.DefaultVariant, func() entity.Behavior { return &tournamentBehavior{batchRounds: true} })
	r.Register(KindTournament, VariantUnbatched, func() entity.Behavior { return &tournamentBehavior{} })
	r.Register(KindTeam, entity.DefaultVariant, func() entity.Behavior { return teamBehavior{} })
	r.Register(KindRound, entity.DefaultVariant, func() entity.Behavior { return roundBehavior{} })
	r.Register(KindMatch, entity.DefaultVariant, func() entity.Behavior { return &matchBehavior{} })
	r.Register(KindMatch, VariantStrict, func() entity.Behavior { return &matchBehavior{strict: true} })
	r.Register(KindGame, entity.DefaultVariant, func() entity.Behavior { return gameBehavior{} })
}

// NewRegistry returns a registry with every tournament kind registered.
func NewRegistry() *entity.Registry {
	r := entity.NewRegistry()
	Register(r)
	return r
}

// tournamentID resolves the owning tournament of a team, match or round: the
// parent when attached to one, otherwise the tourney_id field.
func tournamentID(e *entity.Entity) string {
	if p := e.Parent(); p != nil && p.Kind() == KindTournament {
		return p.ID()
	}
	return e.String("tourney_id")
}

// args builds a request argument map from the non-nil values of a field map.
func args(values map[string]any, extra ...any) map[string]any {
	out := make(map[string]any, len(values)+len(extra)/2)
	for k, v := range values {
		if v != nil {
			out[k] = v
		}
	}
	for i := 0; i+1 < len(extra); i += 2 {
		out[extra[i].(string)] = extra[i+1]
	}
	return out
}
