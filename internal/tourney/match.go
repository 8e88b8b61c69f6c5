package tourney

import (
	"context"
	"fmt"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/entity"
	"github.com/tourney-sync/internal/transport"
)

var matchSchema = &entity.Schema{
	Kind:    KindMatch,
	IDField: "tourney_match_id",
	Fields:  []string{"winner_id", "score", "o_score", "draw", "notes"},
	ReadOnly: []string{
		"tourney_id", "tourney_team_id", "o_tourney_team_id",
		"bracket", "round", "best_of", "round_format",
	},
	Defaults: map[string]any{"score": 0, "o_score": 0, "draw": false},
}

// A match without an id is unreported; saving it reports the result.
type matchBehavior struct {
	// strict requires the game results to add up to exactly the wins needed.
	strict bool
}

func (b *matchBehavior) Schema() *entity.Schema { return matchSchema }

func (b *matchBehavior) CreateRequest(e *entity.Entity) (entity.Request, error) {
	m := AsMatch(e)
	tid := tournamentID(e)
	if tid == "" {
		return entity.Request{}, domain.Invalid(string(KindMatch), "report", domain.ErrParentNotSaved)
	}
	if err := m.validateReport(b.strict); err != nil {
		return entity.Request{}, err
	}

	winner, loser := m.Winner(), m.Loser()
	if m.IsDraw() {
		winner, loser = m.TeamID(), m.OpponentID()
	}
	return entity.Request{
		Service: SvcTeamReportWin,
		Args: args(map[string]any{
			"bracket": e.Value("bracket"),
			"round":   e.Value("round"),
			"notes":   e.Value("notes"),
		},
			"tourney_id", tid,
			"tourney_team_id", winner,
			"o_tourney_team_id", loser,
			"score", e.Int("score"),
			"o_score", e.Int("o_score"),
			"draw", m.IsDraw(),
		),
	}, nil
}

func (b *matchBehavior) Created(_ *entity.Entity, res *transport.Result) (string, error) {
	id := res.String("tourney_match_id")
	if id == "" {
		return "", fmt.Errorf("%s returned no tourney_match_id", SvcTeamReportWin)
	}
	return id, nil
}

func (b *matchBehavior) UpdateRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{Service: SvcMatchUpdate, Args: args(e.Changes(), "tourney_match_id", e.ID())}, nil
}

func (b *matchBehavior) LoadRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{
		Service: SvcMatchLoad,
		Args:    map[string]any{"tourney_match_id": e.ID(), "get_round": true},
		NoCache: true,
	}, nil
}

// Loaded imports match_info, folds in the round format and replaces the
// persisted games with the listed ones. Games added locally are kept.
func (b *matchBehavior) Loaded(_ context.Context, e *entity.Entity, res *transport.Result) error {
	info := res.Map("match_info")
	if info == nil {
		return fmt.Errorf("%s response has no match_info", SvcMatchLoad)
	}
	if format := res.Map("round_format"); format != nil {
		info["round_format"] = format
		if _, ok := info["best_of"]; !ok {
			info["best_of"] = format["best_of"]
		}
	}
	e.Import(info)

	var pending []*entity.Entity
	for _, g := range e.Children(KindGame) {
		if g.IsNew() {
			if err := e.RemoveChild(g, true); err != nil {
				return err
			}
			pending = append(pending, g)
		}
	}
	e.RemoveChildren(KindGame)
	for _, values := range res.List("games") {
		g, err := e.Context().New(KindGame)
		if err != nil {
			return err
		}
		g.Import(values)
		if err := e.AddChild(g); err != nil {
			return err
		}
	}
	for _, g := range pending {
		if err := e.AddChild(g); err != nil {
			return err
		}
	}
	e.MarkChildrenFetched(KindGame)
	return nil
}

func (b *matchBehavior) Invalidations(e *entity.Entity) []cache.Filter {
	return []cache.Filter{{TournamentID: tournamentID(e)}}
}

// SaveChildren reports every dirty game of the match in one call.
func (b *matchBehavior) SaveChildren(ctx context.Context, parent *entity.Entity, kind entity.Kind, dirty []*entity.Entity) (bool, error) {
	if kind != KindGame {
		return false, nil
	}
	return true, reportGames(ctx, AsMatch(parent), dirty)
}

// Match is one pairing of two teams.
type Match struct {
	*entity.Entity
}

// AsMatch wraps an entity of kind match.
func AsMatch(e *entity.Entity) *Match {
	if e == nil {
		return nil
	}
	return &Match{Entity: e}
}

// TeamID returns the first participant.
func (m *Match) TeamID() string { return m.String("tourney_team_id") }

// OpponentID returns the second participant.
func (m *Match) OpponentID() string { return m.String("o_tourney_team_id") }

// Winner returns the winning team id, or "".
func (m *Match) Winner() string { return m.String("winner_id") }

// Loser returns the participant that is not the winner, or "" without a
// winner.
func (m *Match) Loser() string {
	return m.opponentOf(m.Winner())
}

// IsDraw reports whether the match is set as a draw.
func (m *Match) IsDraw() bool { return m.Bool("draw") }

// IsReported reports whether the result has been accepted by the service.
func (m *Match) IsReported() bool { return m.ID() != "" }

// BestOf returns the series length, 1 when unknown.
func (m *Match) BestOf() int {
	bo := m.Int("best_of")
	if bo <= 0 {
		if format, ok := m.Value("round_format").(map[string]any); ok {
			if f, ok := format["best_of"].(float64); ok {
				bo = int(f)
			}
		}
	}
	if bo <= 0 {
		bo = 1
	}
	return bo
}

// WinsNeeded returns how many games a team must win to take the series.
func (m *Match) WinsNeeded() int {
	return m.BestOf()/2 + 1
}

// IsParticipant reports whether a team plays in the match.
func (m *Match) IsParticipant(teamID string) bool {
	return teamID != "" && (teamID == m.TeamID() || teamID == m.OpponentID())
}

func (m *Match) opponentOf(teamID string) string {
	switch teamID {
	case "":
		return ""
	case m.TeamID():
		return m.OpponentID()
	case m.OpponentID():
		return m.TeamID()
	}
	return ""
}

// SetWinner sets the winning team. A later SetDraw replaces it.
func (m *Match) SetWinner(teamID string) error {
	if err := m.Alive(); err != nil {
		return err
	}
	if !m.IsParticipant(teamID) {
		return domain.Invalid(string(KindMatch), "set winner", fmt.Errorf("%w: %s", domain.ErrNotParticipant, teamID))
	}
	if err := m.Set("winner_id", teamID); err != nil {
		return err
	}
	return m.Set("draw", false)
}

// SetDraw marks the match as a draw. It clears the winner and levels both
// scores at the higher of the two. A later SetWinner replaces it.
func (m *Match) SetDraw() error {
	if err := m.Set("draw", true); err != nil {
		return err
	}
	if err := m.Set("winner_id", nil); err != nil {
		return err
	}
	level := max(m.Int("score"), m.Int("o_score"))
	if err := m.Set("score", level); err != nil {
		return err
	}
	return m.Set("o_score", level)
}

// SetScores sets the winner's and the loser's score.
func (m *Match) SetScores(score, oScore int) error {
	if err := m.Set("score", score); err != nil {
		return err
	}
	return m.Set("o_score", oScore)
}

// AddGame adds a NEW game won by teamID; an empty teamID adds a drawn game.
// Games are reported with the match.
func (m *Match) AddGame(teamID string) (*Game, error) {
	if err := m.Alive(); err != nil {
		return nil, err
	}
	if teamID != "" && !m.IsParticipant(teamID) {
		return nil, domain.Invalid(string(KindGame), "add", fmt.Errorf("%w: %s", domain.ErrNotParticipant, teamID))
	}
	e, err := m.Context().New(KindGame)
	if err != nil {
		return nil, err
	}
	if teamID != "" {
		err = e.Set("winner_id", teamID)
	} else {
		err = e.Set("draw", true)
	}
	if err != nil {
		return nil, err
	}
	if err := m.AddChild(e); err != nil {
		return nil, err
	}
	return AsGame(e), nil
}

// Games returns the match games in order.
func (m *Match) Games() []*Game {
	children := m.Children(KindGame)
	games := make([]*Game, 0, len(children))
	for _, c := range children {
		games = append(games, AsGame(c))
	}
	return games
}

// GameWins counts the games won by a team.
func (m *Match) GameWins(teamID string) int {
	n := 0
	for _, g := range m.Games() {
		if teamID != "" && g.Winner() == teamID {
			n++
		}
	}
	return n
}

// Report submits the result. Without an explicit winner or draw, the team
// that reached the wins needed in its games is taken as the winner, and
// unset scores are taken from the game wins. Reporting twice fails without
// contacting the service.
func (m *Match) Report(ctx context.Context) error {
	if err := m.Alive(); err != nil {
		return err
	}
	if m.IsReported() {
		return domain.Invalid(string(KindMatch), "report", domain.ErrAlreadyReported)
	}
	if m.Winner() == "" && !m.IsDraw() {
		for _, team := range []string{m.TeamID(), m.OpponentID()} {
			if team != "" && m.GameWins(team) >= m.WinsNeeded() {
				if err := m.SetWinner(team); err != nil {
					return err
				}
				break
			}
		}
	}
	if m.Winner() != "" && m.Int("score") == 0 && m.Int("o_score") == 0 && len(m.Games()) > 0 {
		if err := m.SetScores(m.GameWins(m.Winner()), m.GameWins(m.Loser())); err != nil {
			return err
		}
	}
	return m.Save(ctx)
}

// Unreport reverts a reported match to open. Its games are discarded, the
// match becomes NEW again and is detached from its tournament. Matches that
// depended on the result are rolled back by the service; the tournament's
// cached results are dropped so they are re-read.
func (m *Match) Unreport(ctx context.Context) error {
	if err := m.Alive(); err != nil {
		return err
	}
	if !m.IsReported() {
		return domain.Invalid(string(KindMatch), "unreport", domain.ErrNotReported)
	}
	tid := tournamentID(m.Entity)
	if _, err := m.Context().Call(ctx, entity.Request{
		Service: SvcMatchUnreport,
		Args:    map[string]any{"tourney_match_id": m.ID()},
	}); err != nil {
		return fmt.Errorf("unreporting match %s: %w", m.ID(), err)
	}
	m.Context().Invalidate(ctx, cache.Filter{TournamentID: tid})

	if p := m.Parent(); p != nil {
		if err := p.RemoveChild(m.Entity, true); err != nil {
			return err
		}
	}
	m.RemoveChildren(KindGame)
	m.ClearID()
	if err := m.Assign("tourney_id", tid); err != nil {
		return err
	}
	for name, v := range map[string]any{"winner_id": nil, "score": 0, "o_score": 0, "draw": false} {
		if err := m.Set(name, v); err != nil {
			return err
		}
	}
	m.Commit()
	return nil
}

func (m *Match) validateReport(strict bool) error {
	fail := func(err error) error { return domain.Invalid(string(KindMatch), "report", err) }

	if m.IsDraw() {
		if m.TeamID() == "" || m.OpponentID() == "" {
			return fail(fmt.Errorf("%w: draw needs both participants", domain.ErrInvalidRequest))
		}
	} else {
		if m.Winner() == "" {
			return fail(domain.ErrNoWinner)
		}
		if !m.IsParticipant(m.Winner()) {
			return fail(fmt.Errorf("%w: %s", domain.ErrNotParticipant, m.Winner()))
		}
	}

	games := m.Games()
	for _, g := range games {
		if w := g.Winner(); w != "" && !m.IsParticipant(w) {
			return fail(fmt.Errorf("%w: game won by %s", domain.ErrNotParticipant, w))
		}
		if err := checkGameResult(g.Entity); err != nil {
			return err
		}
	}
	if len(games) == 0 {
		return nil
	}

	a, b := m.Winner(), m.Loser()
	if m.IsDraw() {
		a, b = m.TeamID(), m.OpponentID()
	}
	wa, wb := m.GameWins(a), m.GameWins(b)
	switch {
	case m.IsDraw() && strict && wa != wb:
		return fail(fmt.Errorf("%w: draw with %d-%d in games", domain.ErrGameWinCount, wa, wb))
	case !m.IsDraw() && wb > wa:
		return fail(fmt.Errorf("%w: winner has %d game wins, loser has %d", domain.ErrGameWinCount, wa, wb))
	case !m.IsDraw() && strict && (wa != m.WinsNeeded() || wb >= m.WinsNeeded()):
		return fail(fmt.Errorf("%w: best of %d needs %d wins, got %d-%d", domain.ErrGameWinCount, m.BestOf(), m.WinsNeeded(), wa, wb))
	}
	return nil
}
