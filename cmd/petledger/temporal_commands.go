package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/petledger/service/db"
	"github.com/brojonat/petledger/service/temporal"
	"github.com/urfave/cli/v2"
)

func startConfirmationCommand() *cli.Command {
	return &cli.Command{
		Name:      "start",
		Usage:     "Start durable confirmation of a submitted signature",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "kind",
				Aliases:  []string{"k"},
				Usage:    "Submission kind (e.g. transfer_asset)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "level",
				Usage: "Commitment level to wait for",
				Value: "confirmed",
			},
			&cli.IntFlag{
				Name:  "max-checks",
				Usage: "Status checks before the submission is declared expired",
				Value: temporal.DefaultMaxChecks,
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Delay between status checks",
				Value: temporal.DefaultCheckInterval,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: SIGNATURE")
			}

			tc, err := getTemporalClient(c, temporal.ConfirmationConfig{
				Level:         c.String("level"),
				MaxChecks:     c.Int("max-checks"),
				CheckInterval: c.Duration("interval"),
			})
			if err != nil {
				return err
			}
			defer tc.Close()

			id, err := tc.StartConfirmation(c.Context, c.Args().First(), c.String("kind"))
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(map[string]string{"workflow_id": id})
			}
			fmt.Printf("✓ Confirmation workflow started: %s\n", id)
			return nil
		},
	}
}

func awaitConfirmationCommand() *cli.Command {
	return &cli.Command{
		Name:      "await",
		Usage:     "Wait for a confirmation workflow to finish and print its result",
		ArgsUsage: "SIGNATURE",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   10 * time.Minute,
				Usage:   "How long to wait",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: SIGNATURE")
			}

			tc, err := getTemporalClient(c, temporal.ConfirmationConfig{})
			if err != nil {
				return err
			}
			defer tc.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, c.Duration("timeout"))
			defer cancelTimeout()

			result, err := tc.AwaitConfirmation(ctx, c.Args().First())
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(result)
			}
			fmt.Printf("Signature:  %s\n", result.Signature)
			fmt.Printf("Status:     %s\n", result.Status)
			if result.Slot > 0 {
				fmt.Printf("Slot:       %d\n", result.Slot)
			}
			if result.Reason != "" {
				fmt.Printf("Reason:     %s\n", result.Reason)
			}
			fmt.Printf("Checks:     %d\n", result.Checks)
			return nil
		},
	}
}

// reconcileCommand finds journaled submissions still awaiting confirmation
// and, with --fix, starts their confirmation workflows.
func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Check for pending submissions without a confirmation workflow",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "fix",
				Usage: "Start confirmation workflows for pending submissions",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include pending submissions that already have a workflow id",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of pending submissions to examine",
				Value: 500,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			pending, err := store.ListPendingSubmissions(c.Context, int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list pending submissions: %w", err)
			}

			var missing []*db.Submission
			for _, s := range pending {
				if s.WorkflowID == nil || c.Bool("all") {
					missing = append(missing, s)
				}
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tKIND\tAGE\tWORKFLOW")
			for _, s := range missing {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.Signature,
					s.Kind,
					time.Since(s.CreatedAt).Round(time.Second),
					formatOptional(s.WorkflowID),
				)
			}
			w.Flush()
			fmt.Fprintf(os.Stderr, "\n%d pending, %d without a workflow\n", len(pending), len(missing))

			if !c.Bool("fix") || len(missing) == 0 {
				return nil
			}

			tc, err := getTemporalClient(c, temporal.ConfirmationConfig{})
			if err != nil {
				return err
			}
			defer tc.Close()

			started := 0
			for _, s := range missing {
				id, err := tc.StartConfirmation(c.Context, s.Signature, s.Kind)
				if err != nil {
					fmt.Fprintf(os.Stderr, "✗ %s: %v\n", s.Signature, err)
					continue
				}
				if _, err := store.UpdateSubmissionStatus(c.Context, db.UpdateSubmissionStatusParams{
					Signature:  s.Signature,
					Status:     s.Status,
					WorkflowID: &id,
				}); err != nil {
					fmt.Fprintf(os.Stderr, "✗ %s: started %s but failed to record it: %v\n", s.Signature, id, err)
					continue
				}
				started++
			}

			fmt.Fprintf(os.Stderr, "✓ Started %d of %d confirmation workflows\n", started, len(missing))
			if started < len(missing) {
				return fmt.Errorf("%d workflows failed to start", len(missing)-started)
			}
			return nil
		},
	}
}

// Helper function to connect to Temporal
func getTemporalClient(c *cli.Context, confirm temporal.ConfirmationConfig) (*temporal.Client, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("temporal-task-queue"),
		confirm,
		logger,
	)
}
