package tourney

import (
	"context"
	"fmt"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/domain"
	"github.com/tourney-sync/internal/entity"
	"github.com/tourney-sync/internal/transport"
)

var teamSchema = &entity.Schema{
	Kind:     KindTeam,
	IDField:  "tourney_team_id",
	Fields:   []string{"display_name", "country_code", "notes", "network_display_name"},
	ReadOnly: []string{"tourney_id", "status", "wins", "losses", "draws", "lb_wins"},
	Defaults: map[string]any{"display_name": ""},
}

type teamBehavior struct{}

func (teamBehavior) Schema() *entity.Schema { return teamSchema }

func (teamBehavior) CreateRequest(e *entity.Entity) (entity.Request, error) {
	tid := tournamentID(e)
	if tid == "" {
		return entity.Request{}, domain.Invalid(string(KindTeam), "insert", domain.ErrParentNotSaved)
	}
	if e.String("display_name") == "" {
		return entity.Request{}, domain.Invalid(string(KindTeam), "insert", fmt.Errorf("%w: display_name is required", domain.ErrInvalidRequest))
	}
	return entity.Request{Service: SvcTeamInsert, Args: args(e.Changes(), "tourney_id", tid)}, nil
}

func (teamBehavior) Created(e *entity.Entity, res *transport.Result) (string, error) {
	id := res.String("tourney_team_id")
	if id == "" {
		return "", fmt.Errorf("%s returned no tourney_team_id", SvcTeamInsert)
	}
	confirmed := map[string]any{"tourney_id": tournamentID(e)}
	if status, ok := res.Values["status"]; ok {
		confirmed["status"] = status
	}
	e.Confirm(confirmed)
	return id, nil
}

func (teamBehavior) UpdateRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{Service: SvcTeamUpdate, Args: args(e.Changes(), "tourney_team_id", e.ID())}, nil
}

func (teamBehavior) DeleteRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{Service: SvcTeamDelete, Args: map[string]any{"tourney_team_id": e.ID()}}, nil
}

func (teamBehavior) LoadRequest(e *entity.Entity) (entity.Request, error) {
	return entity.Request{
		Service: SvcTeamLoad,
		Args:    map[string]any{"tourney_team_id": e.ID()},
		Scope:   cache.Scope{TournamentID: tournamentID(e), TeamID: e.ID()},
	}, nil
}

func (teamBehavior) Loaded(_ context.Context, e *entity.Entity, res *transport.Result) error {
	data := res.Map("team_info")
	if data == nil {
		return fmt.Errorf("%s response has no team_info", SvcTeamLoad)
	}
	e.Import(data)
	return nil
}

func (teamBehavior) Invalidations(e *entity.Entity) []cache.Filter {
	filters := []cache.Filter{{TeamID: e.ID()}}
	if tid := tournamentID(e); tid != "" {
		filters = append(filters, cache.Filter{TournamentID: tid})
	}
	return filters
}

// Team is one participant of a tournament.
type Team struct {
	*entity.Entity
}

// AsTeam wraps an entity of kind team.
func AsTeam(e *entity.Entity) *Team {
	if e == nil {
		return nil
	}
	return &Team{Entity: e}
}

// DisplayName returns the team name.
func (t *Team) DisplayName() string { return t.String("display_name") }

// SetDisplayName renames the team.
func (t *Team) SetDisplayName(name string) error { return t.Set("display_name", name) }

// TournamentID returns the owning tournament id.
func (t *Team) TournamentID() string { return tournamentID(t.Entity) }

// Status returns the confirmation status.
func (t *Team) Status() int { return t.Int("status") }

// Confirm marks the team as confirmed for the tournament.
func (t *Team) Confirm(ctx context.Context) error {
	return t.changeStatus(ctx, SvcTeamConfirm, TeamConfirmed)
}

// Unconfirm returns the team to the unconfirmed list.
func (t *Team) Unconfirm(ctx context.Context) error {
	return t.changeStatus(ctx, SvcTeamUnconfirm, TeamUnconfirmed)
}

// Ban bans the team from the tournament.
func (t *Team) Ban(ctx context.Context) error {
	return t.changeStatus(ctx, SvcTeamBan, TeamBanned)
}

func (t *Team) changeStatus(ctx context.Context, service string, status int) error {
	if err := t.Alive(); err != nil {
		return err
	}
	if t.ID() == "" {
		return domain.Invalid(string(KindTeam), "status", domain.ErrNotPersisted)
	}
	res, err := t.Context().Call(ctx, entity.Request{
		Service: service,
		Args:    map[string]any{"tourney_team_id": t.ID()},
	})
	if err != nil {
		return fmt.Errorf("changing status of team %s: %w", t.ID(), err)
	}
	var confirmed any = status
	if v, ok := res.Values["status"]; ok {
		confirmed = v
	}
	t.Entity.Confirm(map[string]any{"status": confirmed})
	t.Context().Invalidate(ctx, teamBehavior{}.Invalidations(t.Entity)...)
	return nil
}
