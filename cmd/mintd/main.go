package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "mintd",
		Usage: "Multi-purpose token lifecycle service CLI",
		Description: `A command-line tool for managing and debugging the mintd service.

Use this CLI to create and inspect issuances, authorize holders, mint and
transfer token value, watch lifecycle events, and manage the reconcile
schedule.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listIssuancesDBCommand(),
					getIssuanceDBCommand(),
					listAuthorizationsDBCommand(),
					getTransferDBCommand(),
				},
			},
			// Issuance lifecycle commands (HTTP API)
			{
				Name:  "issuance",
				Usage: "Issuance lifecycle commands",
				Subcommands: []*cli.Command{
					createIssuanceCommand(),
					getIssuanceCommand(),
					listIssuancesCommand(),
					freezeCommand(),
					unfreezeCommand(),
					clawbackCommand(),
				},
			},
			// Holder authorization commands (HTTP API)
			{
				Name:  "auth",
				Usage: "Holder authorization commands",
				Subcommands: []*cli.Command{
					authorizeHolderCommand(),
					confirmAuthorizationCommand(),
					listAuthorizationsCommand(),
				},
			},
			// Mint and transfer commands (HTTP API)
			transferCommand(),
			// Temporal reconcile schedule commands
			{
				Name:  "temporal",
				Usage: "Temporal reconcile schedule commands",
				Subcommands: []*cli.Command{
					upsertScheduleCommand(),
					deleteScheduleCommand(),
					runReconcileCommand(),
				},
			},
			// NATS lifecycle event commands
			{
				Name:  "nats",
				Usage: "NATS lifecycle event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "temporal-host",
				Usage:   "Temporal server address",
				EnvVars: []string{"TEMPORAL_HOST"},
				Value:   "localhost:7233",
			},
			&cli.StringFlag{
				Name:    "temporal-namespace",
				Usage:   "Temporal namespace",
				EnvVars: []string{"TEMPORAL_NAMESPACE"},
				Value:   "default",
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "mintd server URL",
				EnvVars: []string{"MINTD_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
