// Command enginectl is the operator tool for the turn engine: schema
// migration, season setup, bearer tokens and leaderboard inspection.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var configPath = flag.String("config", os.Getenv("ENGINE_CONFIG"), "path to config.toml")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")

	commander.Register(&migrateCmd{}, "database")
	commander.Register(&seasonCmd{}, "database")
	commander.Register(&seasonsCmd{}, "database")
	commander.Register(&leaderboardCmd{}, "database")
	commander.Register(&priceCmd{}, "database")
	commander.Register(&tokenCmd{}, "auth")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
