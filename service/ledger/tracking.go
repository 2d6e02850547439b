package ledger

import (
	"context"

	"github.com/brojonat/petledger/service/db"
	natspkg "github.com/brojonat/petledger/service/nats"
	"github.com/brojonat/petledger/service/solana"
)

// batchPublisher is implemented by publishers that can announce a whole
// batch in one call. natspkg.JetStreamPublisher satisfies it.
type batchPublisher interface {
	PublishSubmissionBatch(ctx context.Context, events []*natspkg.SubmissionEvent) error
}

// track returns a pass-through for a builder result that records successful
// submissions as a side effect. The transaction is already on the network by
// then, so the side effects ignore cancellation of ctx.
func (s *Service) track(ctx context.Context) func(*solana.Submission, error) (*solana.Submission, error) {
	ctx = context.WithoutCancel(ctx)
	return func(sub *solana.Submission, err error) (*solana.Submission, error) {
		if err != nil {
			return nil, err
		}
		s.journalSubmission(ctx, sub)
		s.announce(ctx, sub)
		s.scheduleConfirmation(ctx, sub)
		return sub, nil
	}
}

// trackBatch records the landed items of a batch. Events go out in a single
// batch publish when the publisher supports it.
func (s *Service) trackBatch(ctx context.Context, results []solana.BatchResult) {
	var landed []*solana.Submission
	for _, r := range results {
		if r.Err == nil && r.Submission != nil {
			landed = append(landed, r.Submission)
		}
	}
	if len(landed) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	bp, batched := s.publisher.(batchPublisher)
	for _, sub := range landed {
		s.journalSubmission(ctx, sub)
		if !batched {
			s.announce(ctx, sub)
		}
		s.scheduleConfirmation(ctx, sub)
	}
	if !batched {
		return
	}

	events := make([]*natspkg.SubmissionEvent, len(landed))
	for i, sub := range landed {
		events[i] = natspkg.FromSubmission(sub)
	}
	if err := bp.PublishSubmissionBatch(ctx, events); err != nil {
		s.logger.WarnContext(ctx, "failed to publish batch events",
			"count", len(events),
			"error", err,
		)
	}
}

// The helpers below run after a transaction is already on the network, so
// their failures are logged and never returned.

func (s *Service) journalSubmission(ctx context.Context, sub *solana.Submission) {
	if s.journal == nil {
		return
	}
	params := db.CreateSubmissionParams{
		Signature: sub.Signature.String(),
		Kind:      string(sub.Kind),
		Signer:    sub.Signer.String(),
		Amount:    sub.Amount,
		Decimals:  int16(sub.Decimals),
		Status:    string(sub.Confirmation.Status),
	}
	if !sub.Mint.IsZero() {
		mint := sub.Mint.String()
		params.Mint = &mint
	}
	if sub.Destination != nil {
		dest := sub.Destination.String()
		params.Destination = &dest
	}
	if sub.Confirmation.Reason != "" {
		reason := sub.Confirmation.Reason
		params.Error = &reason
	}
	if _, err := s.journal.CreateSubmission(ctx, params); err != nil {
		s.logger.ErrorContext(ctx, "failed to journal submission",
			"signature", params.Signature,
			"error", err,
		)
	}
}

func (s *Service) announce(ctx context.Context, sub *solana.Submission) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishSubmission(ctx, natspkg.FromSubmission(sub)); err != nil {
		s.logger.WarnContext(ctx, "failed to publish submission event",
			"signature", sub.Signature.String(),
			"error", err,
		)
	}
}

// scheduleConfirmation hands a submission whose outcome is still open to
// durable confirmation and attaches the workflow id to its journal row.
func (s *Service) scheduleConfirmation(ctx context.Context, sub *solana.Submission) {
	if s.scheduler == nil || !needsDurableConfirmation(sub.Confirmation.Status) {
		return
	}
	signature := sub.Signature.String()
	workflowID, err := s.scheduler.StartConfirmation(ctx, signature, string(sub.Kind))
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to schedule confirmation",
			"signature", signature,
			"error", err,
		)
		return
	}
	s.logger.InfoContext(ctx, "scheduled confirmation",
		"signature", signature,
		"workflow_id", workflowID,
	)
	if s.journal == nil {
		return
	}
	_, err = s.journal.UpdateSubmissionStatus(ctx, db.UpdateSubmissionStatusParams{
		Signature:  signature,
		Status:     string(sub.Confirmation.Status),
		WorkflowID: &workflowID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to attach workflow to submission",
			"signature", signature,
			"workflow_id", workflowID,
			"error", err,
		)
	}
}

// needsDurableConfirmation reports whether the inline result left the
// outcome open.
func needsDurableConfirmation(status solana.ConfirmationStatus) bool {
	return status == solana.ConfirmationPending || status == solana.ConfirmationSkipped
}
