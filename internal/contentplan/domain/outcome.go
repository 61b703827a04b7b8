package domain

import "time"

// OutcomeStatus is the per-recipient delivery state.
type OutcomeStatus string

const (
	OutcomeStatusPending         OutcomeStatus = "pending"
	OutcomeStatusSent            OutcomeStatus = "sent"
	OutcomeStatusFailedRetryable OutcomeStatus = "failed_retryable"
	OutcomeStatusFailedPermanent OutcomeStatus = "failed_permanent"
)

// Terminal reports whether the status will never change again.
func (s OutcomeStatus) Terminal() bool {
	return s == OutcomeStatusSent || s == OutcomeStatusFailedPermanent
}

// Outcome records the delivery attempt history of one entry to one
// recipient. Rows are created at fan-out time, mutated only by the
// dispatcher and never deleted while the entry exists.
type Outcome struct {
	EntryID       int64         `json:"entry_id"`
	RecipientID   int64         `json:"recipient_id"`
	Status        OutcomeStatus `json:"status"`
	AttemptCount  int           `json:"attempt_count"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}
