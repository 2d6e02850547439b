package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/petledger/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listSubmissionsDBCommand() *cli.Command {
	return &cli.Command{
		Name:    "submissions",
		Usage:   "List journaled submissions straight from the database",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "signer",
				Usage: "Filter by signer address",
			},
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Filter by mint",
			},
			&cli.BoolFlag{
				Name:  "pending",
				Usage: "Only submissions still awaiting confirmation, oldest first",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of submissions",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var subs []*db.Submission
			if c.Bool("pending") {
				subs, err = store.ListPendingSubmissions(c.Context, int32(c.Int("limit")))
			} else {
				subs, err = store.ListSubmissions(c.Context, db.ListSubmissionsParams{
					Signer: c.String("signer"),
					Mint:   c.String("mint"),
					Limit:  int32(c.Int("limit")),
				})
			}
			if err != nil {
				return fmt.Errorf("failed to list submissions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(subs)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tKIND\tSTATUS\tWORKFLOW\tERROR\tCREATED")
			for _, s := range subs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.Signature,
					s.Kind,
					s.Status,
					formatOptional(s.WorkflowID),
					formatOptional(s.Error),
					s.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(subs))
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the journal schema (idempotent)",
		Action: func(c *cli.Context) error {
			pool, err := connectDB(c)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(c.Context, pool); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "✓ Schema applied")
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, err := connectDB(c)
	if err != nil {
		return nil, nil, err
	}
	return db.NewStore(pool), pool.Close, nil
}

func connectDB(c *cli.Context) (*pgxpool.Pool, error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}
