package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/referkit/referkit/internal/contentplan/domain"
)

const entryColumns = "id, owner_id, scheduled_at, message_text, media_refs, status, failure_reason, created_at, updated_at"
const outcomeColumns = "entry_id, recipient_id, status, attempt_count, last_attempt_at, last_error, created_at"

type PgEntryRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgEntryRepository(db *pgxpool.Pool, logger *slog.Logger) *PgEntryRepository {
	return &PgEntryRepository{db: db, logger: logger}
}

func (r *PgEntryRepository) CreateEntry(ctx context.Context, entry *domain.Entry) error {
	query := `
		INSERT INTO content_plan_entries (owner_id, scheduled_at, message_text, media_refs, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRow(ctx, query,
		entry.OwnerID, entry.ScheduledAt, entry.MessageText, entry.MediaRefs,
		entry.Status, entry.CreatedAt, entry.UpdatedAt,
	).Scan(&entry.ID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating content plan entry", "error", err, "owner_id", entry.OwnerID)
		return err
	}
	return nil
}

func (r *PgEntryRepository) GetEntry(ctx context.Context, id int64) (*domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM content_plan_entries WHERE id = $1`
	entry, err := scanEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting entry", "error", err, "entry_id", id)
		return nil, err
	}
	return entry, nil
}

func (r *PgEntryRepository) ListEntriesByOwner(ctx context.Context, ownerID int64) ([]*domain.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM content_plan_entries WHERE owner_id = $1 ORDER BY scheduled_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (r *PgEntryRepository) ListDueEntries(ctx context.Context, asOf time.Time, limit int) ([]*domain.Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM content_plan_entries
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, id ASC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, domain.EntryStatusPending, asOf, limit)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing due entries", "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ClaimEntry performs the compare-and-set claim: the UPDATE applies
// only while the stored status is still pending, so concurrent
// claimers race and exactly one wins.
func (r *PgEntryRepository) ClaimEntry(ctx context.Context, id int64) error {
	query := `
		UPDATE content_plan_entries
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query, domain.EntryStatusInProgress, time.Now().UTC(), id, domain.EntryStatusPending)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming entry", "error", err, "entry_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		var status domain.EntryStatus
		err := r.db.QueryRow(ctx, `SELECT status FROM content_plan_entries WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *PgEntryRepository) CreateOutcomes(ctx context.Context, entryID int64, recipientIDs []int64) error {
	if len(recipientIDs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	query := `
		INSERT INTO delivery_outcomes (entry_id, recipient_id, status, attempt_count, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (entry_id, recipient_id) DO NOTHING
	`
	for _, recipientID := range recipientIDs {
		batch.Queue(query, entryID, recipientID, domain.OutcomeStatusPending, now)
	}
	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		r.logger.ErrorContext(ctx, "Error creating delivery outcomes", "error", err, "entry_id", entryID)
		return err
	}
	return nil
}

func (r *PgEntryRepository) GetOutcome(ctx context.Context, entryID, recipientID int64) (*domain.Outcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM delivery_outcomes WHERE entry_id = $1 AND recipient_id = $2`
	outcome, err := scanOutcome(r.db.QueryRow(ctx, query, entryID, recipientID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOutcomeNotFound
		}
		return nil, err
	}
	return outcome, nil
}

func (r *PgEntryRepository) ListOutcomes(ctx context.Context, entryID int64) ([]*domain.Outcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM delivery_outcomes WHERE entry_id = $1 ORDER BY recipient_id ASC`
	rows, err := r.db.Query(ctx, query, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOutcomes(rows)
}

// RecordAttempt applies the attempt-cap downgrade inside the upsert:
// the stored attempt_count is authoritative, not the count the caller
// read before sending, so a duplicate job that bumped the row in the
// meantime cannot strand it at failed_retryable over the cap.
func (r *PgEntryRepository) RecordAttempt(ctx context.Context, entryID, recipientID int64, status domain.OutcomeStatus, lastError string, maxAttempts int) (domain.OutcomeStatus, int, error) {
	query := `
		INSERT INTO delivery_outcomes (entry_id, recipient_id, status, attempt_count, last_attempt_at, last_error, created_at)
		VALUES ($1, $2, $3, 1, $4, $5, $4)
		ON CONFLICT (entry_id, recipient_id) DO UPDATE
		SET status = CASE
		        WHEN EXCLUDED.status = $6 AND delivery_outcomes.attempt_count + 1 >= $7 THEN $8
		        ELSE EXCLUDED.status
		    END,
		    attempt_count = delivery_outcomes.attempt_count + 1,
		    last_attempt_at = EXCLUDED.last_attempt_at,
		    last_error = EXCLUDED.last_error
		RETURNING status, attempt_count
	`
	var stored domain.OutcomeStatus
	var attempts int
	err := r.db.QueryRow(ctx, query,
		entryID, recipientID, status, time.Now().UTC(), lastError,
		domain.OutcomeStatusFailedRetryable, maxAttempts, domain.OutcomeStatusFailedPermanent,
	).Scan(&stored, &attempts)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording delivery attempt", "error", err, "entry_id", entryID, "recipient_id", recipientID)
		return "", 0, err
	}
	return stored, attempts, nil
}

func (r *PgEntryRepository) ListDispatchableOutcomes(ctx context.Context, asOf time.Time, maxAttempts int, republishAfter time.Duration, limit int) ([]*domain.Outcome, error) {
	query := `
		SELECT o.entry_id, o.recipient_id, o.status, o.attempt_count, o.last_attempt_at, o.last_error, o.created_at
		FROM delivery_outcomes o
		JOIN content_plan_entries e ON e.id = o.entry_id
		WHERE e.status = $1
		  AND (
		        (o.status = $2 AND o.attempt_count < $3)
		     OR (o.status = $4 AND o.created_at <= $5)
		  )
		ORDER BY o.created_at ASC
		LIMIT $6
	`
	staleBefore := asOf.Add(-republishAfter)
	rows, err := r.db.Query(ctx, query,
		domain.EntryStatusInProgress,
		domain.OutcomeStatusFailedRetryable, maxAttempts,
		domain.OutcomeStatusPending, staleBefore,
		limit,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing dispatchable outcomes", "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectOutcomes(rows)
}

// FinalizeEntry closes an in_progress entry once every outcome is
// terminal. The NOT EXISTS re-reads the outcome rows inside the same
// statement, so the benign race with a concurrent attempt resolves to
// one of the callers succeeding; repeat calls are no-ops.
func (r *PgEntryRepository) FinalizeEntry(ctx context.Context, entryID int64) (domain.EntryStatus, error) {
	query := `
		UPDATE content_plan_entries e
		SET status = $1, updated_at = $2
		WHERE e.id = $3
		  AND e.status = $4
		  AND NOT EXISTS (
		        SELECT 1 FROM delivery_outcomes o
		        WHERE o.entry_id = e.id AND o.status IN ($5, $6)
		  )
	`
	_, err := r.db.Exec(ctx, query,
		domain.EntryStatusCompleted, time.Now().UTC(), entryID,
		domain.EntryStatusInProgress,
		domain.OutcomeStatusPending, domain.OutcomeStatusFailedRetryable,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error finalizing entry", "error", err, "entry_id", entryID)
		return "", err
	}

	var status domain.EntryStatus
	err = r.db.QueryRow(ctx, `SELECT status FROM content_plan_entries WHERE id = $1`, entryID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrEntryNotFound
		}
		return "", err
	}
	return status, nil
}

func (r *PgEntryRepository) MarkEntryFailed(ctx context.Context, entryID int64, reason string) error {
	query := `
		UPDATE content_plan_entries
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`
	tag, err := r.db.Exec(ctx, query,
		domain.EntryStatusFailed, reason, time.Now().UTC(), entryID, domain.EntryStatusInProgress,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error marking entry failed", "error", err, "entry_id", entryID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (r *PgEntryRepository) CancelEntry(ctx context.Context, entryID, ownerID int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM content_plan_entries WHERE id = $1 AND owner_id = $2 AND status = $3`,
		entryID, ownerID, domain.EntryStatusPending,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error cancelling entry", "error", err, "entry_id", entryID)
		return err
	}
	if tag.RowsAffected() == 0 {
		var status domain.EntryStatus
		err := r.db.QueryRow(ctx,
			`SELECT status FROM content_plan_entries WHERE id = $1 AND owner_id = $2`,
			entryID, ownerID,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		return fmt.Errorf("entry %d is %s: %w", entryID, status, domain.ErrInvalidTransition)
	}
	return nil
}

func (r *PgEntryRepository) GetEntryStats(ctx context.Context, entryID int64) (*domain.EntryStats, error) {
	if _, err := r.GetEntry(ctx, entryID); err != nil {
		return nil, err
	}

	query := `SELECT status, COUNT(*) FROM delivery_outcomes WHERE entry_id = $1 GROUP BY status`
	rows, err := r.db.Query(ctx, query, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &domain.EntryStats{}
	for rows.Next() {
		var status domain.OutcomeStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case domain.OutcomeStatusPending:
			stats.Pending = count
		case domain.OutcomeStatusSent:
			stats.Sent = count
		case domain.OutcomeStatusFailedRetryable:
			stats.FailedRetryable = count
		case domain.OutcomeStatusFailedPermanent:
			stats.FailedPermanent = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

func scanEntry(row pgx.Row) (*domain.Entry, error) {
	entry := &domain.Entry{}
	err := row.Scan(
		&entry.ID, &entry.OwnerID, &entry.ScheduledAt, &entry.MessageText, &entry.MediaRefs,
		&entry.Status, &entry.FailureReason, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func collectEntries(rows pgx.Rows) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanOutcome(row pgx.Row) (*domain.Outcome, error) {
	outcome := &domain.Outcome{}
	err := row.Scan(
		&outcome.EntryID, &outcome.RecipientID, &outcome.Status, &outcome.AttemptCount,
		&outcome.LastAttemptAt, &outcome.LastError, &outcome.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func collectOutcomes(rows pgx.Rows) ([]*domain.Outcome, error) {
	var outcomes []*domain.Outcome
	for rows.Next() {
		outcome, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

var _ domain.EntryRepository = (*PgEntryRepository)(nil)
