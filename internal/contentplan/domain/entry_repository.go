package domain

import (
	"context"
	"time"
)

// EntryStats aggregates a content plan entry's outcome rows by status.
type EntryStats struct {
	Total           int `json:"total"`
	Pending         int `json:"pending"`
	Sent            int `json:"sent"`
	FailedRetryable int `json:"failed_retryable"`
	FailedPermanent int `json:"failed_permanent"`
}

// EntryRepository defines the interface for the content plan store.
type EntryRepository interface {
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, id int64) (*Entry, error)
	ListEntriesByOwner(ctx context.Context, ownerID int64) ([]*Entry, error)

	// ListDueEntries returns the pending entries with
	// scheduled_at <= asOf, ordered by scheduled_at then id. The result
	// is a point-in-time snapshot.
	ListDueEntries(ctx context.Context, asOf time.Time, limit int) ([]*Entry, error)

	// ClaimEntry is the conditional pending -> in_progress transition.
	// Exactly one concurrent claimer wins; the rest get
	// ErrInvalidTransition, which callers treat as "skip, not mine".
	ClaimEntry(ctx context.Context, id int64) error

	// CreateOutcomes inserts one pending outcome row per recipient.
	// Re-inserting an existing (entry, recipient) pair is a no-op, so
	// fan-out is safe to repeat.
	CreateOutcomes(ctx context.Context, entryID int64, recipientIDs []int64) error

	GetOutcome(ctx context.Context, entryID, recipientID int64) (*Outcome, error)
	ListOutcomes(ctx context.Context, entryID int64) ([]*Outcome, error)

	// RecordAttempt upserts the outcome row with the given status,
	// increments attempt_count and stamps last_attempt_at. When the
	// incremented count reaches maxAttempts a failed_retryable write is
	// downgraded to failed_permanent inside the same statement, so
	// concurrent attempts against the row cannot leave it retryable yet
	// over the cap. It returns the status actually stored and the new
	// attempt count.
	RecordAttempt(ctx context.Context, entryID, recipientID int64, status OutcomeStatus, lastError string, maxAttempts int) (OutcomeStatus, int, error)

	// ListDispatchableOutcomes returns outcomes of in_progress entries
	// that should be (re)offered to dispatchers: failed_retryable rows
	// under the attempt cap, and pending rows created before
	// asOf-republishAfter whose original hand-off may have been lost.
	ListDispatchableOutcomes(ctx context.Context, asOf time.Time, maxAttempts int, republishAfter time.Duration, limit int) ([]*Outcome, error)

	// FinalizeEntry moves an in_progress entry to completed iff no
	// pending or failed_retryable outcomes remain (zero outcomes also
	// completes). Idempotent; returns the entry's status afterwards.
	FinalizeEntry(ctx context.Context, entryID int64) (EntryStatus, error)

	// MarkEntryFailed records a structural failure (e.g. the owner is
	// gone and the recipient set cannot be resolved).
	MarkEntryFailed(ctx context.Context, entryID int64, reason string) error

	// CancelEntry withdraws a pending entry owned by ownerID. Claimed
	// or finished entries cannot be withdrawn: ErrInvalidTransition.
	CancelEntry(ctx context.Context, entryID, ownerID int64) error

	GetEntryStats(ctx context.Context, entryID int64) (*EntryStats, error)
}
