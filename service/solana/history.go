package solana

import (
	"context"
	"errors"
	"log/slog"

	"github.com/brojonat/petledger/service/metrics"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// MaxHistoryLimit caps a single history request, matching the RPC node's
// signature page size.
const MaxHistoryLimit = 1000

// HistoryDecoder fetches transactions for an address and decodes each one
// into an ActivityRecord.
type HistoryDecoder struct {
	client      *Client
	decoder     *Decoder
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewHistoryDecoder creates a history decoder. concurrency bounds the number
// of in-flight transaction fetches; non-positive means 8.
func NewHistoryDecoder(client *Client, decoder *Decoder, concurrency int, m *metrics.Metrics, logger *slog.Logger) *HistoryDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &HistoryDecoder{
		client:      client,
		decoder:     decoder,
		concurrency: concurrency,
		logger:      logger,
		metrics:     m,
	}
}

// DecodeHistory returns up to limit records for address, newest first in the
// order the network lists them. Every listed signature yields exactly one
// record; a transaction the network no longer has becomes an Unknown record
// with status Failure("not found"). Any other fetch failure fails the call.
func (h *HistoryDecoder) DecodeHistory(ctx context.Context, address solana.PublicKey, limit int) ([]ActivityRecord, error) {
	if limit <= 0 {
		return nil, validationf("limit", "must be positive, got %d", limit)
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	signatures, err := h.client.SignaturesForAddress(ctx, address, limit, nil)
	if err != nil {
		return nil, err
	}

	records := make([]ActivityRecord, len(signatures))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.concurrency)
	for i, sig := range signatures {
		g.Go(func() error {
			result, err := h.client.Transaction(gctx, sig.Signature)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					records[i] = ActivityRecord{
						Signature: sig.Signature.String(),
						Slot:      sig.Slot,
						Kind:      KindUnknown,
						Timestamp: blockTime(sig),
						Status:    StatusFailure("not found"),
					}
					return nil
				}
				return err
			}
			records[i] = h.decoder.Decode(sig.Signature.String(), result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.ErrorContext(ctx, "history decode failed",
			"address", address.String(),
			"error", err,
		)
		return nil, err
	}

	if h.metrics != nil {
		for _, r := range records {
			h.metrics.RecordActivityDecoded(string(r.Kind))
		}
	}

	h.logger.DebugContext(ctx, "decoded history",
		"address", address.String(),
		"records", len(records),
	)
	return records, nil
}
