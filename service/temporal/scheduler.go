package temporal

import (
	"context"
)

// Scheduler starts durable confirmation of submissions.
// Each submission gets one ConfirmSubmissionWorkflow keyed by its signature.
type Scheduler interface {
	// StartConfirmation starts (or joins) the confirmation workflow for a
	// signature and returns its workflow ID.
	StartConfirmation(ctx context.Context, signature, kind string) (string, error)
}

// confirmationWorkflowID returns the workflow ID for a signature.
func confirmationWorkflowID(signature string) string {
	return "confirm-" + signature
}
