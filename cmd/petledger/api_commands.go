package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brojonat/petledger/client"
	"github.com/urfave/cli/v2"
)

func tokenCommands() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Fungible token commands",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a new token mint owned by the service signer",
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.UintFlag{
						Name:     "decimals",
						Aliases:  []string{"d"},
						Usage:    "Number of decimal places (0 for assets)",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					decimals := c.Uint("decimals")
					if decimals > 255 {
						return fmt.Errorf("decimals must be between 0 and 255")
					}
					sub, err := getClient(c).CreateToken(c.Context, uint8(decimals))
					if err != nil {
						return fmt.Errorf("failed to create token: %w", err)
					}
					return outputSubmission(c, sub)
				},
			},
			{
				Name:      "mint",
				Usage:     "Mint tokens to a wallet",
				ArgsUsage: "MINT TO AMOUNT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires MINT, TO and AMOUNT")
					}
					args := c.Args()
					sub, err := getClient(c).MintToken(c.Context, args.Get(0), args.Get(1), args.Get(2))
					if err != nil {
						return fmt.Errorf("failed to mint: %w", err)
					}
					return outputSubmission(c, sub)
				},
			},
			{
				Name:      "transfer",
				Aliases:   []string{"send"},
				Usage:     "Transfer tokens from the service signer",
				ArgsUsage: "MINT TO AMOUNT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 3 {
						return fmt.Errorf("requires MINT, TO and AMOUNT")
					}
					args := c.Args()
					sub, err := getClient(c).TransferToken(c.Context, args.Get(0), args.Get(1), args.Get(2))
					if err != nil {
						return fmt.Errorf("failed to transfer: %w", err)
					}
					return outputSubmission(c, sub)
				},
			},
			{
				Name:      "burn",
				Usage:     "Burn tokens held by the service signer",
				ArgsUsage: "MINT AMOUNT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires MINT and AMOUNT")
					}
					sub, err := getClient(c).BurnToken(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("failed to burn: %w", err)
					}
					return outputSubmission(c, sub)
				},
			},
		},
	}
}

func assetCommands() *cli.Command {
	return &cli.Command{
		Name:    "asset",
		Aliases: []string{"pet"},
		Usage:   "Non-fungible asset commands",
		Subcommands: []*cli.Command{
			{
				Name:      "transfer",
				Usage:     "Transfer an asset to a wallet",
				ArgsUsage: "MINT TO",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("requires MINT and TO")
					}
					sub, err := getClient(c).TransferAsset(c.Context, c.Args().Get(0), c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("failed to transfer asset: %w", err)
					}
					return outputSubmission(c, sub)
				},
			},
			{
				Name:      "burn",
				Usage:     "Burn an asset",
				ArgsUsage: "MINT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: MINT")
					}
					sub, err := getClient(c).BurnAsset(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to burn asset: %w", err)
					}
					return outputSubmission(c, sub)
				},
			},
			{
				Name:      "batch-transfer",
				Usage:     "Transfer many assets, one transaction each",
				ArgsUsage: "MINT=TO [MINT=TO...]",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one MINT=TO pair is required")
					}
					items, err := parseTransferItems(c.Args().Slice())
					if err != nil {
						return err
					}
					res, err := getClient(c).BatchTransferAssets(c.Context, items)
					if err != nil {
						return fmt.Errorf("batch transfer failed: %w", err)
					}
					return outputBatch(c, res)
				},
			},
			{
				Name:      "batch-burn",
				Usage:     "Burn many assets, one transaction each",
				ArgsUsage: "MINT [MINT...]",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("at least one MINT is required")
					}
					res, err := getClient(c).BatchBurnAssets(c.Context, c.Args().Slice())
					if err != nil {
						return fmt.Errorf("batch burn failed: %w", err)
					}
					return outputBatch(c, res)
				},
			},
			{
				Name:      "show",
				Aliases:   []string{"get"},
				Usage:     "Show an asset's name, image and traits",
				ArgsUsage: "MINT",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: MINT")
					}
					asset, err := getClient(c).GetAsset(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get asset: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(asset)
					}

					fmt.Printf("Mint:         %s\n", asset.MintAddress)
					fmt.Printf("Name:         %s\n", asset.Name)
					if asset.Symbol != "" {
						fmt.Printf("Symbol:       %s\n", asset.Symbol)
					}
					if asset.Description != "" {
						fmt.Printf("Description:  %s\n", asset.Description)
					}
					if asset.ImageURI != "" {
						fmt.Printf("Image:        %s\n", asset.ImageURI)
					}
					if asset.MetadataURI != "" {
						fmt.Printf("Metadata:     %s\n", asset.MetadataURI)
					}
					for _, attr := range asset.Attributes {
						fmt.Printf("  %s: %s\n", attr.Trait, attr.Value)
					}
					if asset.Partial {
						fmt.Fprintf(os.Stderr, "\nmetadata incomplete: %s\n", asset.Reason)
					}
					return nil
				},
			},
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show a wallet's native or token balance",
		ArgsUsage: "OWNER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Token mint (omit for the native balance)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: OWNER")
			}
			balance, err := getClient(c).GetBalance(c.Context, c.Args().First(), c.String("mint"))
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			if c.Bool("json") {
				return outputJSON(balance)
			}

			fmt.Printf("Owner:    %s\n", balance.Owner)
			if balance.Mint != nil {
				fmt.Printf("Mint:     %s\n", *balance.Mint)
			} else {
				fmt.Printf("Mint:     (native SOL)\n")
			}
			if balance.Account != nil {
				fmt.Printf("Account:  %s\n", *balance.Account)
			}
			fmt.Printf("Balance:  %s (%d base units)\n", balance.UIAmount, balance.Amount)
			return nil
		},
	}
}

func submissionCommands() *cli.Command {
	return &cli.Command{
		Name:    "submission",
		Aliases: []string{"sub"},
		Usage:   "Journaled submission commands",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Look a submission up by signature",
				ArgsUsage: "SIGNATURE",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: SIGNATURE")
					}
					entry, err := getClient(c).GetSubmission(c.Context, c.Args().First())
					if err != nil {
						return fmt.Errorf("failed to get submission: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(entry)
					}
					printJournalEntries([]*client.JournalEntry{entry})
					return nil
				},
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List journaled submissions, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "signer", Usage: "Filter by signer address"},
					&cli.StringFlag{Name: "mint", Aliases: []string{"m"}, Usage: "Filter by mint"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "Maximum number of submissions"},
					&cli.IntFlag{Name: "offset", Usage: "Number of submissions to skip"},
				},
				Action: func(c *cli.Context) error {
					entries, err := getClient(c).ListSubmissions(c.Context, client.ListSubmissionsOptions{
						Signer: c.String("signer"),
						Mint:   c.String("mint"),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return fmt.Errorf("failed to list submissions: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(entries)
					}
					printJournalEntries(entries)
					fmt.Fprintf(os.Stderr, "\nTotal: %d submissions\n", len(entries))
					return nil
				},
			},
			{
				Name:      "await",
				Usage:     "Block until a submission reaches a final status",
				ArgsUsage: "SIGNATURE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Submission kind, narrows the stream"},
					&cli.DurationFlag{Name: "timeout", Aliases: []string{"t"}, Value: 5 * time.Minute, Usage: "How long to wait"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return fmt.Errorf("requires exactly one argument: SIGNATURE")
					}
					signature := c.Args().First()

					ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
					defer cancel()

					if !c.Bool("json") {
						fmt.Fprintf(os.Stderr, "Waiting for %s (timeout %v)...\n", signature, c.Duration("timeout"))
					}
					event, err := getClient(c).AwaitStatus(ctx, signature, c.String("kind"))
					if err != nil {
						return fmt.Errorf("failed to await submission: %w", err)
					}
					if c.Bool("json") {
						return outputJSON(event)
					}
					printEvent(event)
					return nil
				},
			},
		},
	}
}

// streamCommand follows the server's SSE submission stream.
func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream submission events via SSE (HTTP)",
		ArgsUsage: "[kind]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "signer", Usage: "Only events signed by this address"},
		},
		Action: func(c *cli.Context) error {
			kind := c.Args().First()
			jsonOutput := c.Bool("json")

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming submissions... (Ctrl+C to stop)\n\n")
			}

			ctx, stop := signalContext(c.Context)
			defer stop()

			err := getClient(c).StreamSubmissions(ctx, kind, c.String("signer"), func(e *client.SubmissionEvent) bool {
				if jsonOutput {
					data, _ := json.Marshal(e)
					fmt.Println(string(data))
				} else {
					printEvent(e)
				}
				return true
			})
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil
		},
	}
}

// parseTransferItems parses MINT=TO pairs.
func parseTransferItems(args []string) ([]client.TransferItem, error) {
	items := make([]client.TransferItem, 0, len(args))
	for _, arg := range args {
		mint, to, ok := strings.Cut(arg, "=")
		if !ok || mint == "" || to == "" {
			return nil, fmt.Errorf("invalid pair %q: expected MINT=TO", arg)
		}
		items = append(items, client.TransferItem{Mint: mint, To: to})
	}
	return items, nil
}

func getClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func outputSubmission(c *cli.Context, sub *client.Submission) error {
	if c.Bool("json") {
		return outputJSON(sub)
	}
	printSubmission(sub)
	return nil
}

func outputBatch(c *cli.Context, res *client.BatchResult) error {
	if c.Bool("json") {
		return outputJSON(res)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tMINT\tSIGNATURE\tSTATUS")
	for _, item := range res.Results {
		if item.Submission != nil {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", item.Index, item.Submission.Mint, item.Submission.Signature, item.Submission.Confirmation.Status)
		} else {
			fmt.Fprintf(w, "%d\t-\t-\terror (%s): %s\n", item.Index, item.ErrorKind, item.Error)
		}
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nSucceeded: %d, failed: %d\n", res.Succeeded, res.Failed)
	return nil
}

func printSubmission(sub *client.Submission) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Kind:         %s\n", sub.Kind)
	fmt.Printf("Signature:    %s\n", sub.Signature)
	fmt.Printf("Signer:       %s\n", sub.Signer)
	fmt.Printf("Mint:         %s\n", sub.Mint)
	if sub.Destination != nil {
		fmt.Printf("Destination:  %s\n", *sub.Destination)
	}
	if sub.Amount > 0 {
		fmt.Printf("Amount:       %d (decimals %d)\n", sub.Amount, sub.Decimals)
	}
	for _, acct := range sub.CreatedAccounts {
		fmt.Printf("Created:      %s\n", acct)
	}
	fmt.Printf("Status:       %s\n", sub.Confirmation.Status)
	if sub.Confirmation.Slot > 0 {
		fmt.Printf("Slot:         %d\n", sub.Confirmation.Slot)
	}
	if sub.Confirmation.Reason != "" {
		fmt.Printf("Reason:       %s\n", sub.Confirmation.Reason)
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func printJournalEntries(entries []*client.JournalEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tKIND\tMINT\tAMOUNT\tSTATUS\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Signature,
			e.Kind,
			formatOptional(e.Mint),
			e.Amount,
			e.Status,
			e.CreatedAt.Format(time.RFC3339),
		)
	}
	w.Flush()
}

func printEvent(e *client.SubmissionEvent) {
	line := fmt.Sprintf("%-16s %-22s %s", e.Kind, e.Status, e.Signature)
	if e.Slot > 0 {
		line += " slot=" + strconv.FormatUint(e.Slot, 10)
	}
	if e.Reason != "" {
		line += " reason=" + strconv.Quote(e.Reason)
	}
	fmt.Println(line)
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper function to format an optional field
func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
