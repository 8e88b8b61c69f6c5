package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tourney-sync/internal/cache"
	"github.com/tourney-sync/internal/config"
	"github.com/tourney-sync/internal/service"
	"github.com/tourney-sync/internal/store"
	"github.com/tourney-sync/internal/tourney"
	"github.com/tourney-sync/internal/transport"
)

const usage = `usage: tourneyctl [-config path] <command> [flags]

commands:
  create      create a tournament with teams
  load        print a tournament and its teams
  report      report the open match of a team as won
  invalidate  drop cached results
`

// multiFlag collects a repeated string flag
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	verbose := flag.Bool("v", false, "Log debug output to stderr")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Debug("failed to load config file, using defaults and environment", "error", err)
		if cfg, err = config.FromEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "tourneyctl: %v\n", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tourneyctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string, out io.Writer) error {
	cacheStore, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cacheStore.Close()

	respCache := cache.New(cacheStore, &cfg.Cache, logger)
	client, err := service.NewClient(transport.NewHTTPTransport(&cfg.Transport, logger), respCache, cfg, logger)
	if err != nil {
		return err
	}

	switch cmd {
	case "create":
		return runCreate(ctx, client, args, out)
	case "load":
		return runLoad(ctx, client, args, out)
	case "report":
		return runReport(ctx, client, args, out)
	case "invalidate":
		return runInvalidate(ctx, client, args, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func runCreate(ctx context.Context, client *service.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	title := fs.String("title", "", "Tournament title")
	game := fs.String("game", "", "Game code")
	var teams multiFlag
	fs.Var(&teams, "team", "Team display name (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	t, err := client.NewTournament(*title)
	if err != nil {
		return err
	}
	if *game != "" {
		if err := t.SetGameCode(*game); err != nil {
			return err
		}
	}
	for _, name := range teams {
		if _, err := t.AddTeam(name); err != nil {
			return err
		}
	}
	if err := t.Save(ctx); err != nil {
		return fmt.Errorf("saving tournament: %w", err)
	}
	return writeJSON(out, tournamentView(ctx, t))
}

func runLoad(ctx context.Context, client *service.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	id := fs.String("id", "", "Tournament id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return errors.New("load: -id is required")
	}

	t, err := client.LoadTournament(ctx, *id)
	if err != nil {
		return err
	}
	return writeJSON(out, tournamentView(ctx, t))
}

func runReport(ctx context.Context, client *service.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	id := fs.String("tournament", "", "Tournament id")
	winner := fs.String("winner", "", "Winning team id")
	games := fs.String("games", "", "Comma-separated game winners, in order")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" || *winner == "" {
		return errors.New("report: -tournament and -winner are required")
	}

	t, err := client.Tournament(*id)
	if err != nil {
		return err
	}
	open, err := t.OpenMatches(ctx)
	if err != nil {
		return err
	}
	var match *tourney.Match
	for _, m := range open {
		if m.IsParticipant(*winner) {
			match = m
			break
		}
	}
	if match == nil {
		return fmt.Errorf("team %s has no open match in tournament %s", *winner, *id)
	}

	if err := match.SetWinner(*winner); err != nil {
		return err
	}
	if *games != "" {
		for _, g := range strings.Split(*games, ",") {
			if _, err := match.AddGame(strings.TrimSpace(g)); err != nil {
				return err
			}
		}
	}
	if err := match.Report(ctx); err != nil {
		return fmt.Errorf("reporting match: %w", err)
	}
	return writeJSON(out, map[string]any{
		"tourney_match_id": match.ID(),
		"winner_id":        match.Winner(),
		"loser_id":         match.Loser(),
		"games":            len(match.Games()),
	})
}

func runInvalidate(ctx context.Context, client *service.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	var f cache.Filter
	fs.StringVar(&f.Service, "service", "", "Service name")
	fs.StringVar(&f.TournamentID, "tournament", "", "Tournament id")
	fs.StringVar(&f.TeamID, "team", "", "Team id")
	fs.StringVar(&f.GameCode, "game", "", "Game code")
	all := fs.Bool("all", false, "Drop every cached result")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.IsZero() && !*all {
		return errors.New("invalidate: give a scope or -all")
	}

	n, err := client.ClearCache(ctx, f)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{"removed": n})
}

func tournamentView(ctx context.Context, t *tourney.Tournament) map[string]any {
	view := t.Fields()
	teams, err := t.Teams(ctx)
	if err != nil {
		view["teams_error"] = err.Error()
		return view
	}
	list := make([]map[string]any, 0, len(teams))
	for _, team := range teams {
		list = append(list, team.Fields())
	}
	view["teams"] = list
	return view
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
