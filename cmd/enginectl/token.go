package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/tickrun/turn-engine/internal/auth"
)

type tokenCmd struct {
	owner string
	ttl   time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "issue a bearer token for an owner" }
func (*tokenCmd) Usage() string {
	return `enginectl token -owner <id> [-ttl 24h]

  Signs an HS256 JWT with auth.secret. The owner id is the sub claim.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.owner, "owner", "", "owner id carried by the token")
	f.DurationVar(&c.ttl, "ttl", 24*time.Hour, "token lifetime")
}

func (c *tokenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.owner == "" {
		fmt.Fprintln(os.Stderr, "Error: -owner is required")
		return subcommands.ExitUsageError
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitUsageError
	}
	if cfg.Auth.Secret == "" {
		fmt.Fprintln(os.Stderr, "Error: auth.secret (or AUTH_SECRET) is required")
		return subcommands.ExitUsageError
	}
	token, err := auth.NewJWT(cfg.Auth.Secret).Sign(c.owner, c.ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	fmt.Println(token)
	return subcommands.ExitSuccess
}
