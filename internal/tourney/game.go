package tourney

import (
	"context"
	"fmt"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/entity"
	"github.com/tourney-sync/internal/transport"
)

var gameSchema = &entity.Schema{
	Kind:     KindGame,
	IDField:  "tourney_match_game_id",
	Fields:   []string{"winner_id", "draw", "score", "o_score", "map_id", "map", "race", "o_race", "notes"},
	ReadOnly: []string{"tourney_match_id"},
	Defaults: map[string]any{"score": 0, "o_score": 0},
}

// serverFilled lists the game fields the service fills in when they were not
// given locally.
var serverFilled = []string{"map_id", "race", "o_race"}

// Games are always sent through the batch report service, alone or together
// with their siblings.
type gameBehavior struct{}

func (gameBehavior) Schema() *entity.Schema { return gameSchema }

func (gameBehavior) CreateRequest(e *entity.Entity) (entity.Request, error) {
	return singleGameRequest(e)
}

func (gameBehavior) Created(e *entity.Entity, res *transport.Result) (string, error) {
	results := res.List("games")
	if len(results) == 0 {
		return "", fmt.Errorf("%s returned no games", SvcGameReportBatch)
	}
	id := transport.Stringify(results[0]["tourney_match_game_id"])
	if id == "" {
		return "", fmt.Errorf("%s returned no tourney_match_game_id", SvcGameReportBatch)
	}
	fillServerValues(e, results[0])
	return id, nil
}

func (gameBehavior) UpdateRequest(e *entity.Entity) (entity.Request, error) {
	return singleGameRequest(e)
}

func (gameBehavior) Invalidations(e *entity.Entity) []cache.Filter {
	if p := e.Parent(); p != nil {
		return []cache.Filter{{TournamentID: tournamentID(p)}}
	}
	return nil
}

func singleGameRequest(e *entity.Entity) (entity.Request, error) {
	m := AsMatch(e.Parent())
	if m == nil || m.Kind() != KindMatch || !m.IsReported() {
		return entity.Request{}, domain.Invalid(string(KindGame), "report", domain.ErrParentNotSaved)
	}
	if err := checkGameResult(e); err != nil {
		return entity.Request{}, err
	}
	return entity.Request{
		Service: SvcGameReportBatch,
		Args: map[string]any{
			"tourney_match_id": m.ID(),
			"games":            []any{gameArgs(m, e)},
		},
	}, nil
}

// reportGames submits the dirty games of a match in one call and gives each
// its id and any server-filled values.
func reportGames(ctx context.Context, m *Match, games []*entity.Entity) error {
	if !m.IsReported() {
		return domain.Invalid(string(KindGame), "report", domain.ErrParentNotSaved)
	}
	list := make([]any, 0, len(games))
	for _, g := range games {
		if err := checkGameResult(g); err != nil {
			return err
		}
		list = append(list, gameArgs(m, g))
	}
	res, err := m.Context().Call(ctx, entity.Request{
		Service: SvcGameReportBatch,
		Args: map[string]any{
			"tourney_match_id": m.ID(),
			"games":            list,
		},
	})
	if err != nil {
		return fmt.Errorf("reporting games of match %s: %w", m.ID(), err)
	}

	// Games the response does not account for stay NEW and dirty.
	results := res.List("games")
	var missing []int
	for i, g := range games {
		if i >= len(results) {
			break
		}
		if g.IsNew() {
			id := transport.Stringify(results[i]["tourney_match_game_id"])
			if id == "" {
				missing = append(missing, i+1)
				continue
			}
			g.AssignID(id)
		}
		fillServerValues(g, results[i])
		g.Commit()
	}
	m.Context().Invalidate(ctx, cache.Filter{TournamentID: tournamentID(m.Entity)})
	if len(results) < len(games) {
		return fmt.Errorf("%s returned %d games for %d submitted", SvcGameReportBatch, len(results), len(games))
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s returned no tourney_match_game_id for games %v of match %s", SvcGameReportBatch, missing, m.ID())
	}
	return nil
}

// checkGameResult rejects a game that has neither a winner nor a draw.
func checkGameResult(g *entity.Entity) error {
	if g.String("winner_id") == "" && !g.Bool("draw") {
		return domain.Invalid(string(KindGame), "report", domain.ErrNoWinner)
	}
	return nil
}

func gameArgs(m *Match, g *entity.Entity) map[string]any {
	winner := g.String("winner_id")
	loser := m.opponentOf(winner)
	draw := g.Bool("draw")
	if draw {
		winner, loser = m.TeamID(), m.OpponentID()
	}
	out := args(map[string]any{
		"map_id": g.Value("map_id"),
		"map":    g.Value("map"),
		"race":   g.Value("race"),
		"o_race": g.Value("o_race"),
		"notes":  g.Value("notes"),
	},
		"tourney_team_id", winner,
		"o_tourney_team_id", loser,
		"score", g.Int("score"),
		"o_score", g.Int("o_score"),
		"draw", draw,
	)
	if id := g.ID(); id != "" {
		out["tourney_match_game_id"] = id
	}
	return out
}

func fillServerValues(g *entity.Entity, values map[string]any) {
	filled := make(map[string]any)
	for _, name := range serverFilled {
		if g.String(name) != "" {
			continue
		}
		if v := values[name]; v != nil {
			filled[name] = v
		}
	}
	if len(filled) > 0 {
		g.Confirm(filled)
	}
}

// Game is one game of a match series.
type Game struct {
	*entity.Entity
}

// AsGame wraps an entity of kind game.
func AsGame(e *entity.Entity) *Game {
	if e == nil {
		return nil
	}
	return &Game{Entity: e}
}

// Winner returns the winning team id, or "" for a drawn game.
func (g *Game) Winner() string { return g.String("winner_id") }

// IsDraw reports whether the game was drawn.
func (g *Game) IsDraw() bool { return g.Bool("draw") }

// SetWinner sets the winner of the game, replacing a draw.
func (g *Game) SetWinner(teamID string) error {
	if m := AsMatch(g.Parent()); m != nil && !m.IsParticipant(teamID) {
		return domain.Invalid(string(KindGame), "set winner", fmt.Errorf("%w: %s", domain.ErrNotParticipant, teamID))
	}
	if err := g.Set("winner_id", teamID); err != nil {
		return err
	}
	return g.Set("draw", false)
}

// SetDraw marks the game drawn and levels both scores at the higher one.
func (g *Game) SetDraw() error {
	if err := g.Set("draw", true); err != nil {
		return err
	}
	if err := g.Set("winner_id", nil); err != nil {
		return err
	}
	level := max(g.Int("score"), g.Int("o_score"))
	if err := g.Set("score", level); err != nil {
		return err
	}
	return g.Set("o_score", level)
}

// SetScores sets the winner's and the loser's score.
func (g *Game) SetScores(score, oScore int) error {
	if err := g.Set("score", score); err != nil {
		return err
	}
	return g.Set("o_score", oScore)
}

// SetMap sets the map by id.
func (g *Game) SetMap(mapID string) error { return g.Set("map_id", mapID) }

// SetRaces sets the race or faction played by winner and loser.
func (g *Game) SetRaces(race, oRace string) error {
	if err := g.Set("race", race); err != nil {
		return err
	}
	return g.Set("o_race", oRace)
}
