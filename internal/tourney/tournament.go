package tourney

import (
	"context"
	"fmt"
	"sort"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/entity"
	"github.com/tourney-sync/internal/transport"
)

var tournamentSchema = &entity.Schema{
	Kind:    KindTournament,
	IDField: "tourney_id",
	Fields: []string{
		"title", "description", "game_code", "type_id", "elimination",
		"max_teams", "team_mode", "group_count", "teams_from_group",
		"bronze", "public", "location", "date_start",
	},
	ReadOnly: []string{"status", "url", "game", "created", "team_count"},
	Defaults: map[string]any{
		"title":       "",
		"type_id":     0,
		"elimination": 1,
		"max_teams":   32,
		"team_mode":   1,
		"bronze":      false,
		"public":      true,
	},
}

type tournamentBehavior struct {
	batchRounds bool
}

func (b *tournamentBehavior) Schema() *entity.Schema { return tournamentSchema }

func (b *tournamentBehavior) CreateRequest(e *entity.Entity) (entity.Request, error) {
	if e.String("title") == "" {
		return entity.Request{}, domain.Invalid(string(KindTournament), "create", fmt.Errorf("%w: title is required", domain.ErrInvalidRequest))
	}
	return entity.Request{Service: SvcTourneyCreate, Args: args(e.Changes())}, nil
}

func (b *tournamentBehavior) Created(e *entity.Entity, res *transport.Result) (string, error) {
	id := res.String("tourney_id")
	if id == "" {
		return "", fmt.Errorf("%s returned no tourney_id", SvcTourneyCreate)
	}
	if url := res.String("url"); url != "" {
		e.Confirm(map[string]any{"url": url})
	}
	return id, nil
}

func (b *tournamentBehavior) UpdateRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{Service: SvcTourneyUpdate, Args: args(e.Changes(), "tourney_id", e.ID())}, nil
}

func (b *tournamentBehavior) DeleteRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{Service: SvcTourneyDelete, Args: map[string]any{"tourney_id": e.ID()}}, nil
}

func (b *tournamentBehavior) LoadRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{
		Service: SvcTourneyLoad,
		Args:    map[string]any{"tourney_id": e.ID()},
		Scope:   cache.Scope{TournamentID: e.ID()},
	}, nil
}

func (b *tournamentBehavior) Loaded(_ context.Context, e *entity.Entity, res *transport.Result) error {
	data := res.Map("tourney_data")
	if data == nil {
		return fmt.Errorf("%s response has no tourney_data", SvcTourneyLoad)
	}
	e.Import(data)
	return nil
}

func (b *tournamentBehavior) Invalidations(e *entity.Entity) []cache.Filter {
	return []cache.Filter{
		{TournamentID: e.ID()},
		{Service: SvcTourneyList},
	}
}

// SaveChildren submits the dirty rounds of each bracket in one call. Teams,
// matches and single dirty rounds are saved one by one.
func (b *tournamentBehavior) SaveChildren(ctx context.Context, parent *entity.Entity, kind entity.Kind, dirty []*entity.Entity) (bool, error) {
	if !b.batchRounds || kind != KindRound {
		return false, nil
	}

	var brackets []int
	byBracket := make(map[int][]*entity.Entity)
	for _, r := range dirty {
		bracket := r.Int("bracket")
		if _, ok := byBracket[bracket]; !ok {
			brackets = append(brackets, bracket)
		}
		byBracket[bracket] = append(byBracket[bracket], r)
	}

	var first error
	for _, bracket := range brackets {
		rounds := byBracket[bracket]
		var err error
		if len(rounds) == 1 {
			err = rounds[0].Save(ctx)
		} else {
			err = saveRoundBatch(ctx, parent, bracket, rounds)
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return true, first
}

func saveRoundBatch(ctx context.Context, parent *entity.Entity, bracket int, rounds []*entity.Entity) error {
	if parent.ID() == "" {
		return domain.Invalid(string(KindRound), "update", domain.ErrParentNotSaved)
	}
	sort.SliceStable(rounds, func(i, j int) bool { return rounds[i].Int("round") < rounds[j].Int("round") })

	list := make([]any, 0, len(rounds))
	for _, r := range rounds {
		list = append(list, args(roundArgs(r)))
	}
	req := entity.Request{
		Service: SvcRoundBatchUpdate,
		Args: map[string]any{
			"tourney_id": parent.ID(),
			"bracket":    bracket,
			"rounds":     list,
		},
	}
	if _, err := parent.Context().Call(ctx, req); err != nil {
		return fmt.Errorf("updating rounds of bracket %d: %w", bracket, err)
	}
	for _, r := range rounds {
		r.Commit()
	}
	parent.Context().Invalidate(ctx, cache.Filter{Service: SvcTourneyRounds, TournamentID: parent.ID()})
	return nil
}

// Tournament is the root of an entity tree.
type Tournament struct {
	*entity.Entity
}

// AsTournament wraps an entity of kind tournament.
func AsTournament(e *entity.Entity) *Tournament {
	if e == nil {
		return nil
	}
	return &Tournament{Entity: e}
}

// Title returns the tournament title.
func (t *Tournament) Title() string { return t.String("title") }

// SetTitle changes the title.
func (t *Tournament) SetTitle(title string) error { return t.Set("title", title) }

// GameCode returns the game the tournament is played in.
func (t *Tournament) GameCode() string { return t.String("game_code") }

// SetGameCode changes the game.
func (t *Tournament) SetGameCode(code string) error { return t.Set("game_code", code) }

// URL returns the public url assigned by the service.
func (t *Tournament) URL() string { return t.String("url") }

// AddTeam creates a NEW team owned by the tournament. It is inserted on the
// next Save.
func (t *Tournament) AddTeam(name string) (*Team, error) {
	e, err := t.Context().New(KindTeam)
	if err != nil {
		return nil, err
	}
	if err := e.Set("display_name", name); err != nil {
		return nil, err
	}
	if err := t.AddChild(e); err != nil {
		return nil, err
	}
	return AsTeam(e), nil
}

// RemoveTeam detaches a team without deleting it remotely.
func (t *Tournament) RemoveTeam(team *Team, preserve bool) error {
	return t.RemoveChild(team.Entity, preserve)
}

// Teams returns the tournament's teams, listing them from the service once.
// Teams added locally are kept.
func (t *Tournament) Teams(ctx context.Context) ([]*Team, error) {
	if err := t.Alive(); err != nil {
		return nil, err
	}
	if t.ID() != "" && !t.ChildrenFetched(KindTeam) {
		res, err := t.Context().Fetch(ctx, entity.Request{
			Service: SvcTourneyTeams,
			Args:    map[string]any{"tourney_id": t.ID()},
			Scope:   cache.Scope{TournamentID: t.ID()},
		})
		if err != nil {
			return nil, fmt.Errorf("listing teams of %s: %w", t.ID(), err)
		}
		for _, values := range res.List("teams") {
			if err := t.adopt(KindTeam, values); err != nil {
				return nil, err
			}
		}
		t.MarkChildrenFetched(KindTeam)
	}
	children := t.Children(KindTeam)
	teams := make([]*Team, 0, len(children))
	for _, c := range children {
		teams = append(teams, AsTeam(c))
	}
	return teams, nil
}

// Team returns an attached team by id, or nil.
func (t *Tournament) Team(id string) *Team {
	return AsTeam(t.Child(KindTeam, id))
}

// Rounds lists the round settings, fetching them from the service once.
func (t *Tournament) Rounds(ctx context.Context) ([]*Round, error) {
	if err := t.Alive(); err != nil {
		return nil, err
	}
	if t.ID() != "" && !t.ChildrenFetched(KindRound) {
		res, err := t.Context().Fetch(ctx, entity.Request{
			Service: SvcTourneyRounds,
			Args:    map[string]any{"tourney_id": t.ID()},
			Scope:   cache.Scope{TournamentID: t.ID()},
		})
		if err != nil {
			return nil, fmt.Errorf("listing rounds of %s: %w", t.ID(), err)
		}
		for _, values := range res.List("rounds") {
			bracket, round := transport.Stringify(values["bracket"]), transport.Stringify(values["round"])
			if t.Child(KindRound, bracket+"-"+round) != nil {
				continue
			}
			e, err := t.Context().Open(KindRound, bracket+"-"+round)
			if err != nil {
				return nil, err
			}
			e.Import(values)
			if err := t.AddChild(e); err != nil {
				return nil, err
			}
		}
		t.MarkChildrenFetched(KindRound)
	}
	children := t.Children(KindRound)
	rounds := make([]*Round, 0, len(children))
	for _, c := range children {
		rounds = append(rounds, AsRound(c))
	}
	return rounds, nil
}

// Round returns the settings of one round, creating a local handle when the
// service has not listed it.
func (t *Tournament) Round(ctx context.Context, bracket, round int) (*Round, error) {
	if _, err := t.Rounds(ctx); err != nil {
		return nil, err
	}
	id := roundID(bracket, round)
	if r := t.Child(KindRound, id); r != nil {
		return AsRound(r), nil
	}
	e, err := t.Context().Open(KindRound, id)
	if err != nil {
		return nil, err
	}
	e.Import(map[string]any{"bracket": bracket, "round": round, "best_of": 1})
	if err := t.AddChild(e); err != nil {
		return nil, err
	}
	return AsRound(e), nil
}

// OpenMatches lists the matches waiting for a result. They are returned
// detached: an unreported match is NEW and would otherwise make the
// tournament dirty.
func (t *Tournament) OpenMatches(ctx context.Context) ([]*Match, error) {
	if err := t.Alive(); err != nil {
		return nil, err
	}
	if t.ID() == "" {
		return nil, domain.Invalid(string(KindTournament), "open matches", domain.ErrNotPersisted)
	}
	res, err := t.Context().Fetch(ctx, entity.Request{
		Service: SvcTourneyOpenMatches,
		Args:    map[string]any{"tourney_id": t.ID()},
		Scope:   cache.Scope{TournamentID: t.ID()},
	})
	if err != nil {
		return nil, fmt.Errorf("listing open matches of %s: %w", t.ID(), err)
	}
	var matches []*Match
	for _, values := range res.List("matches") {
		e, err := t.Context().New(KindMatch)
		if err != nil {
			return nil, err
		}
		values["tourney_id"] = t.ID()
		e.Import(values)
		matches = append(matches, AsMatch(e))
	}
	return matches, nil
}

// Match attaches a reported match to the tree so that its changes and its
// games are saved with the tournament.
func (t *Tournament) Match(ctx context.Context, id string) (*Match, error) {
	if err := t.Alive(); err != nil {
		return nil, err
	}
	if m := t.Child(KindMatch, id); m != nil {
		return AsMatch(m), nil
	}
	e, err := t.Context().Open(KindMatch, id)
	if err != nil {
		return nil, err
	}
	if err := e.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	if err := t.AddChild(e); err != nil {
		return nil, err
	}
	return AsMatch(e), nil
}

// Start moves the tournament into its next phase.
func (t *Tournament) Start(ctx context.Context) error {
	if err := t.Alive(); err != nil {
		return err
	}
	if t.ID() == "" {
		return domain.Invalid(string(KindTournament), "start", domain.ErrNotPersisted)
	}
	res, err := t.Context().Call(ctx, entity.Request{
		Service: SvcTourneyStart,
		Args:    map[string]any{"tourney_id": t.ID()},
	})
	if err != nil {
		return fmt.Errorf("starting %s: %w", t.ID(), err)
	}
	if status := res.Values["status"]; status != nil {
		t.Confirm(map[string]any{"status": status})
	}
	t.Context().Invalidate(ctx, cache.Filter{TournamentID: t.ID()}, cache.Filter{Service: SvcTourneyList})
	return nil
}

func (t *Tournament) adopt(kind entity.Kind, values map[string]any) error {
	e, err := t.Context().New(kind)
	if err != nil {
		return err
	}
	e.Import(values)
	if e.ID() != "" && t.Child(kind, e.ID()) != nil {
		return nil
	}
	return t.AddChild(e)
}
