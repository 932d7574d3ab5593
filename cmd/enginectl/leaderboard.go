package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/tickrun/turn-engine/internal/model"
)

type leaderboardCmd struct {
	season string
	limit  int
}

func (*leaderboardCmd) Name() string     { return "leaderboard" }
func (*leaderboardCmd) Synopsis() string { return "print the leaderboard" }
func (*leaderboardCmd) Usage() string {
	return `enginectl leaderboard [-season <id>] [-n N]

  Prints finished games ranked by final NAV.
`
}

func (c *leaderboardCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.season, "season", "", "restrict to one season")
	f.IntVar(&c.limit, "n", 20, "number of rows")
}

func (c *leaderboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.limit <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -n must be positive")
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

	entries, err := db.store.Leaderboard(ctx, c.season, c.limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	writeLeaderboard(os.Stdout, entries)
	return subcommands.ExitSuccess
}

func writeLeaderboard(w io.Writer, entries []model.LeaderboardEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "RANK\tFINAL NAV\tTURNS\tOWNER\tGAME\t")
	for i, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t\n",
			i+1, model.FormatMoney(e.FinalNAV, model.SettlementCurrency), e.TurnsPlayed, e.OwnerID, e.GameID)
	}
	tw.Flush()
}
