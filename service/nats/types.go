package nats

import (
	"time"

	"github.com/brojonat/petledger/service/solana"
	"github.com/google/uuid"
)

// SubmissionEvent describes a submission or a later change of its status.
// It is published to the subject "ledger.submissions.{kind}" in JetStream.
type SubmissionEvent struct {
	// EventID deduplicates redelivered publishes.
	EventID string `json:"event_id"`

	Signature   string  `json:"signature"`
	Kind        string  `json:"kind"`
	Signer      string  `json:"signer"`
	Mint        string  `json:"mint,omitempty"`
	Destination *string `json:"destination,omitempty"`
	Amount      uint64  `json:"amount"`
	Decimals    uint8   `json:"decimals"`

	// Status is the confirmation status, or "expired" once durable
	// confirmation gives up.
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Slot   uint64 `json:"slot,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the subject the event is published to.
func (e *SubmissionEvent) Subject() string {
	return SubjectPrefix + e.Kind
}

// FromSubmission converts a ledger submission to an event.
func FromSubmission(sub *solana.Submission) *SubmissionEvent {
	event := &SubmissionEvent{
		EventID:     uuid.NewString(),
		Signature:   sub.Signature.String(),
		Kind:        string(sub.Kind),
		Signer:      sub.Signer.String(),
		Amount:      sub.Amount,
		Decimals:    sub.Decimals,
		Status:      string(sub.Confirmation.Status),
		Reason:      sub.Confirmation.Reason,
		Slot:        sub.Confirmation.Slot,
		PublishedAt: time.Now().UTC(),
	}
	if !sub.Mint.IsZero() {
		event.Mint = sub.Mint.String()
	}
	if sub.Destination != nil {
		dest := sub.Destination.String()
		event.Destination = &dest
	}
	return event
}

// NewStatusEvent builds an event announcing a status change of an already
// published submission.
func NewStatusEvent(signature, kind, status, reason string, slot uint64) *SubmissionEvent {
	return &SubmissionEvent{
		EventID:     uuid.NewString(),
		Signature:   signature,
		Kind:        kind,
		Status:      status,
		Reason:      reason,
		Slot:        slot,
		PublishedAt: time.Now().UTC(),
	}
}
