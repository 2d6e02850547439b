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
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "petledger",
		Usage: "Token and pet asset ledger CLI",
		Description: `A command-line tool for the petledger service.

Use this CLI to mint, move and burn tokens and pet assets through the HTTP API,
inspect balances and decoded history, and debug the journal, event stream and
confirmation workflows.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			tokenCommands(),
			assetCommands(),
			balanceCommand(),
			historyCommand(),
			submissionCommands(),
			streamCommand(),
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Journal database commands",
				Subcommands: []*cli.Command{
					listSubmissionsDBCommand(),
					migrateCommand(),
				},
			},
			// NATS event streaming commands
			{
				Name:  "nats",
				Usage: "NATS submission event commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Temporal confirmation workflow commands
			{
				Name:  "temporal",
				Usage: "Durable confirmation workflow commands",
				Subcommands: []*cli.Command{
					startConfirmationCommand(),
					awaitConfirmationCommand(),
					reconcileCommand(),
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
			keygenCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "petledger HTTP server URL",
				EnvVars: []string{"PETLEDGER_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
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
				Name:    "temporal-task-queue",
				Usage:   "Temporal task queue of the confirmation worker",
				EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
				Value:   "petledger-confirmations",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
