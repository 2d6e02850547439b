package temporal

import (
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/petledger/service/db"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// a is used to reference activity methods in workflow.ExecuteActivity calls.
// The worker registers a real instance; only the method names matter here.
var a *Activities

const (
	DefaultMaxChecks     = 60
	DefaultCheckInterval = 5 * time.Second
)

// ConfirmSubmissionInput is the input for ConfirmSubmissionWorkflow.
type ConfirmSubmissionInput struct {
	Signature     string        `json:"signature"`
	Kind          string        `json:"kind"`
	Level         string        `json:"level"`
	MaxChecks     int           `json:"max_checks"`
	CheckInterval time.Duration `json:"check_interval"`
}

// ConfirmSubmissionResult is the outcome of ConfirmSubmissionWorkflow.
type ConfirmSubmissionResult struct {
	Signature string `json:"signature"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Slot      uint64 `json:"slot,omitempty"`
	Checks    int    `json:"checks"`
}

// ConfirmSubmissionWorkflow follows a submission that was not confirmed inline
// until it lands, fails, or runs out of checks. The final status is written
// to the journal and then published.
func ConfirmSubmissionWorkflow(ctx workflow.Context, input ConfirmSubmissionInput) (*ConfirmSubmissionResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("ConfirmSubmissionWorkflow started", "signature", input.Signature, "kind", input.Kind)

	maxChecks := input.MaxChecks
	if maxChecks <= 0 {
		maxChecks = DefaultMaxChecks
	}
	interval := input.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	result := &ConfirmSubmissionResult{
		Signature: input.Signature,
		Status:    db.StatusExpired,
	}

	for check := 1; check <= maxChecks; check++ {
		result.Checks = check

		var status *CheckConfirmationResult
		err := workflow.ExecuteActivity(ctx, a.CheckConfirmation, CheckConfirmationInput{
			Signature: input.Signature,
			Level:     input.Level,
		}).Get(ctx, &status)
		if err != nil {
			var appErr *temporalsdk.ApplicationError
			if errors.As(err, &appErr) && appErr.NonRetryable() {
				result.Status = db.StatusFailed
				result.Reason = appErr.Error()
				break
			}
			// A check that exhausted its retries counts as a pass without news.
			logger.Warn("confirmation check failed", "signature", input.Signature, "check", check, "error", err)
		} else if status.Terminal() {
			result.Status = status.Status
			result.Reason = status.Reason
			result.Slot = status.Slot
			break
		}

		if check < maxChecks {
			if err := workflow.Sleep(ctx, interval); err != nil {
				return result, err
			}
		}
	}

	if result.Status == db.StatusExpired {
		result.Reason = fmt.Sprintf("not confirmed after %d checks", maxChecks)
	}

	err := workflow.ExecuteActivity(ctx, a.RecordSubmissionStatus, RecordSubmissionStatusInput{
		Signature: input.Signature,
		Status:    result.Status,
		Reason:    result.Reason,
		StartedAt: workflow.GetInfo(ctx).WorkflowStartTime,
	}).Get(ctx, nil)
	if err != nil {
		logger.Error("failed to record submission status", "signature", input.Signature, "error", err)
		return result, fmt.Errorf("failed to record submission status: %w", err)
	}

	err = workflow.ExecuteActivity(ctx, a.PublishSubmissionStatus, PublishSubmissionStatusInput{
		Signature: input.Signature,
		Kind:      input.Kind,
		Status:    result.Status,
		Reason:    result.Reason,
		Slot:      result.Slot,
	}).Get(ctx, nil)
	if err != nil {
		// The journal already holds the outcome.
		logger.Warn("failed to publish submission status", "signature", input.Signature, "error", err)
	}

	logger.Info("ConfirmSubmissionWorkflow completed",
		"signature", input.Signature,
		"status", result.Status,
		"checks", result.Checks,
	)
	return result, nil
}
