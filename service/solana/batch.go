package solana

import (
	"context"
	"log/slog"

	"github.com/brojonat/petledger/service/metrics"
	"golang.org/x/sync/errgroup"
)

// TransferItem is one asset to move in a batch.
type TransferItem struct {
	Mint string `json:"mint"`
	To   string `json:"to"`
}

// BatchResult is the outcome of one batch item. Exactly one of Submission
// and Err is set.
type BatchResult struct {
	Index      int
	Submission *Submission
	Err        error
}

// Orchestrator fans bulk operations out into independent transactions.
// Items succeed or fail on their own: there is no rollback, and a failed
// item never stops the others.
type Orchestrator struct {
	builder     *Builder
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewOrchestrator creates a batch orchestrator running at most concurrency
// items at a time. A non-positive concurrency means no limit.
func NewOrchestrator(builder *Builder, concurrency int, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		builder:     builder,
		concurrency: concurrency,
		logger:      logger,
		metrics:     m,
	}
}

// BatchTransfer transfers each item's asset to its recipient.
// The result has one entry per item, in item order.
func (o *Orchestrator) BatchTransfer(ctx context.Context, signer Signer, items []TransferItem) []BatchResult {
	return o.run(ctx, "transfer", len(items), func(ctx context.Context, i int) (*Submission, error) {
		mint, err := ParseAddress("mint", items[i].Mint)
		if err != nil {
			return nil, err
		}
		to, err := ParseAddress("to", items[i].To)
		if err != nil {
			return nil, err
		}
		return o.builder.TransferAsset(ctx, signer, mint, to)
	})
}

// BatchBurn burns the signer's unit of each asset.
func (o *Orchestrator) BatchBurn(ctx context.Context, signer Signer, mints []string) []BatchResult {
	return o.run(ctx, "burn", len(mints), func(ctx context.Context, i int) (*Submission, error) {
		mint, err := ParseAddress("mint", mints[i])
		if err != nil {
			return nil, err
		}
		return o.builder.BurnAsset(ctx, signer, mint)
	})
}

func (o *Orchestrator) run(ctx context.Context, op string, n int, do func(ctx context.Context, i int) (*Submission, error)) []BatchResult {
	results := make([]BatchResult, n)

	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i := range n {
		g.Go(func() error {
			sub, err := do(ctx, i)
			results[i] = BatchResult{Index: i, Submission: sub, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		status := "success"
		if r.Err != nil {
			status = "error"
			failed++
		}
		if o.metrics != nil {
			o.metrics.RecordBatchItem(op, status)
		}
	}
	o.logger.InfoContext(ctx, "batch complete",
		"op", op,
		"items", n,
		"failed", failed,
	)
	return results
}
