package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"
	"github.com/google/uuid"

	"github.com/tickrun/turn-engine/internal/date"
	"github.com/tickrun/turn-engine/internal/game"
	"github.com/tickrun/turn-engine/internal/model"
)

// seasonCmd creates a season.
type seasonCmd struct {
	id        string
	name      string
	min       string
	max       string
	turns     int
	length    int
	isDefault bool
}

func (*seasonCmd) Name() string     { return "season" }
func (*seasonCmd) Synopsis() string { return "create a season" }
func (*seasonCmd) Usage() string {
	return `enginectl season -name <name> -min <YYYY-MM-DD> -max <YYYY-MM-DD> [-turns N] [-length D] [-default]

  Creates a season. The window must hold turns*length days.
`
}

func (c *seasonCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "season id (default: random UUID)")
	f.StringVar(&c.name, "name", "", "display name")
	f.StringVar(&c.min, "min", "", "earliest start date")
	f.StringVar(&c.max, "max", "", "last date a game may reach, inclusive")
	f.IntVar(&c.turns, "turns", 20, "turns per game")
	f.IntVar(&c.length, "length", 7, "simulated days per turn")
	f.BoolVar(&c.isDefault, "default", false, "make this the default season")
}

func (c *seasonCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	season, err := c.season(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitUsageError
	}
	db, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	if err := db.store.CreateSeason(ctx, season); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating season: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("created season %s (%s .. %s, %d turns of %d days)\n",
		season.ID, season.MinDate, season.MaxDate, season.MaxTurns, season.TurnLengthDays)
	return subcommands.ExitSuccess
}

func (c *seasonCmd) season(now time.Time) (*model.Season, error) {
	if c.name == "" {
		return nil, fmt.Errorf("-name is required")
	}
	minDate, err := date.Parse(c.min)
	if err != nil {
		return nil, fmt.Errorf("-min: %w", err)
	}
	maxDate, err := date.Parse(c.max)
	if err != nil {
		return nil, fmt.Errorf("-max: %w", err)
	}
	s := &model.Season{
		ID:             c.id,
		Name:           c.name,
		MinDate:        minDate,
		MaxDate:        maxDate,
		MaxTurns:       c.turns,
		TurnLengthDays: c.length,
		IsDefault:      c.isDefault,
		CreatedAt:      now.UTC(),
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.MaxTurns <= 0 || s.TurnLengthDays <= 0 {
		return nil, fmt.Errorf("%w: -turns and -length must be positive", game.ErrInvalidSeason)
	}
	if span := minDate.DaysUntil(maxDate); span < s.SpanDays() {
		return nil, fmt.Errorf("%w: window is %d days, %d turns of %d days need %d",
			game.ErrInvalidSeason, span, s.MaxTurns, s.TurnLengthDays, s.SpanDays())
	}
	return s, nil
}

// seasonsCmd lists seasons.
type seasonsCmd struct{}

func (*seasonsCmd) Name() string     { return "seasons" }
func (*seasonsCmd) Synopsis() string { return "list seasons" }
func (*seasonsCmd) Usage() string {
	return `enginectl seasons

  Lists the configured seasons, newest first.
`
}

func (*seasonsCmd) SetFlags(*flag.FlagSet) {}

func (*seasonsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitUsageError
	}
	db, err := connect(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	seasons, err := db.store.ListSeasons(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	writeSeasons(os.Stdout, seasons)
	return subcommands.ExitSuccess
}

func writeSeasons(w io.Writer, seasons []model.Season) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tWINDOW\tTURNS\tDAYS/TURN\tDEFAULT")
	for _, s := range seasons {
		def := ""
		if s.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%d\t%d\t%s\n",
			s.ID, s.Name, s.MinDate, s.MaxDate, s.MaxTurns, s.TurnLengthDays, def)
	}
	tw.Flush()
}
