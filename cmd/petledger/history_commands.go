package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/petledger/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Aliases:   []string{"txns"},
		Usage:     "Show the decoded activity of an address",
		ArgsUsage: "ADDRESS",
		Description: `Fetch and decode the newest transactions touching ADDRESS.

Records can be narrowed with one or more jq filters; a record is kept only
when every filter yields a truthy value. For example:

  petledger history --jq '.kind == "transfer_asset"' --jq '.status.success' ADDRESS`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   25,
				Usage:   "Maximum number of transactions to decode (1-1000)",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter applied to each record (repeatable, all must match)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: ADDRESS")
			}

			filters, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			records, err := getClient(c).GetHistory(c.Context, c.Args().First(), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}

			records, err = filterRecords(records, filters)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tFROM\tTO\tMINT\tAMOUNT\tOK\tSIGNATURE")
			for _, r := range records {
				amount := "-"
				if r.Amount != nil {
					amount = fmt.Sprintf("%d", *r.Amount)
				}
				ts := "-"
				if !r.Timestamp.IsZero() {
					ts = r.Timestamp.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
					ts,
					r.Kind,
					formatOptional(r.From),
					formatOptional(r.To),
					formatOptional(r.AssetOrMint),
					amount,
					r.Status.Success,
					r.Signature,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}

// compileFilters parses and compiles jq filter expressions.
func compileFilters(exprs []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, len(exprs))
	for i, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
	}
	return codes, nil
}

// filterRecords keeps the records every filter accepts. gojq runs on plain
// JSON values, so each record is round-tripped through encoding/json.
func filterRecords(records []client.ActivityRecord, filters []*gojq.Code) ([]client.ActivityRecord, error) {
	if len(filters) == 0 {
		return records, nil
	}

	kept := make([]client.ActivityRecord, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("failed to encode record %s: %w", r.Signature, err)
		}
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode record %s: %w", r.Signature, err)
		}
		if matchesAll(v, filters) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// matchesAll reports whether every filter's first result is truthy. A filter
// that errors or yields nothing does not match.
func matchesAll(v interface{}, filters []*gojq.Code) bool {
	for _, code := range filters {
		iter := code.Run(v)
		result, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := result.(error); isErr {
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// isTruthy checks if a jq result value is truthy.
// In jq, false and null are falsy, everything else is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
