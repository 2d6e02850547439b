package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/petledger/service/db"
	"github.com/brojonat/petledger/service/metrics"
	natspkg "github.com/brojonat/petledger/service/nats"
	"github.com/brojonat/petledger/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.temporal.io/sdk/temporal"
)

// CheckConfirmationInput is the input for the CheckConfirmation activity.
type CheckConfirmationInput struct {
	Signature string `json:"signature"`
	Level     string `json:"level"`
}

// CheckConfirmationResult is what one status check observed.
type CheckConfirmationResult struct {
	Status string `json:"status"`
	Slot   uint64 `json:"slot"`
	Reason string `json:"reason,omitempty"`
}

// Terminal reports whether the check settled the submission.
func (r *CheckConfirmationResult) Terminal() bool {
	return r != nil && (r.Status == db.StatusConfirmed || r.Status == db.StatusFailed)
}

// RecordSubmissionStatusInput is the input for the RecordSubmissionStatus activity.
type RecordSubmissionStatusInput struct {
	Signature string    `json:"signature"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// PublishSubmissionStatusInput is the input for the PublishSubmissionStatus activity.
type PublishSubmissionStatusInput struct {
	Signature string `json:"signature"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Slot      uint64 `json:"slot"`
}

// StoreInterface defines the journal operations the activities need.
type StoreInterface interface {
	UpdateSubmissionStatus(ctx context.Context, params db.UpdateSubmissionStatusParams) (*db.Submission, error)
}

// ConfirmerInterface checks a signature's status once.
type ConfirmerInterface interface {
	SignatureStatus(ctx context.Context, sig solanago.Signature, level rpc.CommitmentType) (solana.ConfirmationResult, error)
}

// PublisherInterface defines the event publishing the activities need.
type PublisherInterface interface {
	PublishSubmission(ctx context.Context, event *natspkg.SubmissionEvent) error
}

// Activities holds the dependencies needed by Temporal activities.
// Store and publisher may be nil, in which case the matching activity is a no-op.
type Activities struct {
	store     StoreInterface
	confirmer ConfirmerInterface
	publisher PublisherInterface
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// If metrics is nil, no metrics will be recorded.
func NewActivities(
	store StoreInterface,
	confirmer ConfirmerInterface,
	publisher PublisherInterface,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:     store,
		confirmer: confirmer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// CheckConfirmation queries the network once for a signature's status.
// Query failures are returned so Temporal retries them.
func (a *Activities) CheckConfirmation(ctx context.Context, input CheckConfirmationInput) (*CheckConfirmationResult, error) {
	start := time.Now()
	status := "success"
	defer func() { a.recordActivity("CheckConfirmation", status, start) }()

	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		status = "error"
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid signature %q", input.Signature), "InvalidSignature", err)
	}

	result, err := a.confirmer.SignatureStatus(ctx, sig, rpc.CommitmentType(input.Level))
	if err != nil {
		status = "error"
		a.logger.WarnContext(ctx, "signature status check failed",
			"signature", input.Signature,
			"error", err,
		)
		return nil, fmt.Errorf("failed to check signature status: %w", err)
	}

	a.logger.DebugContext(ctx, "checked signature status",
		"signature", input.Signature,
		"status", result.Status,
		"slot", result.Slot,
	)
	return &CheckConfirmationResult{
		Status: string(result.Status),
		Slot:   result.Slot,
		Reason: result.Reason,
	}, nil
}

// RecordSubmissionStatus writes the final status to the journal.
func (a *Activities) RecordSubmissionStatus(ctx context.Context, input RecordSubmissionStatusInput) error {
	start := time.Now()
	status := "success"
	defer func() { a.recordActivity("RecordSubmissionStatus", status, start) }()

	if a.metrics != nil && !input.StartedAt.IsZero() {
		a.metrics.RecordWorkflowDuration(input.Status, time.Since(input.StartedAt).Seconds())
	}

	if a.store == nil {
		status = "skipped"
		return nil
	}

	params := db.UpdateSubmissionStatusParams{
		Signature: input.Signature,
		Status:    input.Status,
	}
	if input.Reason != "" {
		params.Error = &input.Reason
	}
	if _, err := a.store.UpdateSubmissionStatus(ctx, params); err != nil {
		if errors.Is(err, db.ErrSubmissionNotFound) {
			// Nothing to update; the submission was never journaled.
			status = "not_found"
			a.logger.WarnContext(ctx, "submission not in journal", "signature", input.Signature)
			return nil
		}
		status = "error"
		return fmt.Errorf("failed to record submission status: %w", err)
	}

	a.logger.InfoContext(ctx, "recorded submission status",
		"signature", input.Signature,
		"status", input.Status,
	)
	return nil
}

// PublishSubmissionStatus publishes the final status to NATS.
func (a *Activities) PublishSubmissionStatus(ctx context.Context, input PublishSubmissionStatusInput) error {
	start := time.Now()
	status := "success"
	defer func() { a.recordActivity("PublishSubmissionStatus", status, start) }()

	if a.publisher == nil {
		status = "skipped"
		return nil
	}

	event := natspkg.NewStatusEvent(input.Signature, input.Kind, input.Status, input.Reason, input.Slot)
	if err := a.publisher.PublishSubmission(ctx, event); err != nil {
		status = "error"
		return fmt.Errorf("failed to publish submission status: %w", err)
	}
	return nil
}

func (a *Activities) recordActivity(activity, status string, start time.Time) {
	if a.metrics != nil {
		a.metrics.RecordActivityDuration(activity, status, time.Since(start).Seconds())
	}
}
