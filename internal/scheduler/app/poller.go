package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	"github.com/referkit/referkit/internal/platform/messagebroker"
	referral "github.com/referkit/referkit/internal/referral/domain"
)

// Config holds the scheduler's tuning knobs.
type Config struct {
	TickInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RepublishAfter time.Duration
}

// TickStats summarizes one scheduler tick.
type TickStats struct {
	DueSeen       int
	Claimed       int
	ClaimLost     int
	JobsPublished int
	Reoffered     int
	Errors        int
}

// Scheduler drives content plan delivery: each tick it claims due
// entries, fans them out into per-recipient outcome rows, publishes
// delivery jobs, and re-offers outcomes whose earlier hand-off failed
// or went stale.
type Scheduler struct {
	entries   contentplan.EntryRepository
	users     referral.UserRepository
	publisher messagebroker.Publisher
	logger    *slog.Logger
	config    Config
}

// NewScheduler creates a Scheduler instance.
func NewScheduler(
	entries contentplan.EntryRepository,
	users referral.UserRepository,
	publisher messagebroker.Publisher,
	logger *slog.Logger,
	cfg Config,
) *Scheduler {
	return &Scheduler{
		entries:   entries,
		users:     users,
		publisher: publisher,
		logger:    logger,
		config:    cfg,
	}
}

// Run ticks until ctx is cancelled. Tick errors are logged, not fatal:
// the next tick retries from the store's current state.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "Scheduler started", "tick_interval", s.config.TickInterval, "batch_size", s.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			stats, err := s.RunTick(ctx, time.Now().UTC())
			if err != nil {
				s.logger.ErrorContext(ctx, "Scheduler tick failed", "error", err)
				continue
			}
			if stats.Claimed > 0 || stats.Reoffered > 0 || stats.Errors > 0 {
				s.logger.InfoContext(ctx, "Scheduler tick finished",
					"due_seen", stats.DueSeen,
					"claimed", stats.Claimed,
					"claim_lost", stats.ClaimLost,
					"jobs_published", stats.JobsPublished,
					"reoffered", stats.Reoffered,
					"errors", stats.Errors)
			}
		}
	}
}

// RunTick executes one scheduler cycle as of the given instant. Phase
// one claims and fans out due entries; phase two re-offers outcomes
// that still need a dispatcher (retryable failures under the attempt
// cap, and pending rows whose original publish may have been lost).
func (s *Scheduler) RunTick(ctx context.Context, asOf time.Time) (TickStats, error) {
	timer := prometheus.NewTimer(tickDurationHist)
	defer timer.ObserveDuration()

	var stats TickStats

	due, err := s.entries.ListDueEntries(ctx, asOf, s.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list due entries: %w", err)
	}
	stats.DueSeen = len(due)

	for _, entry := range due {
		if err := s.processDueEntry(ctx, entry, &stats); err != nil {
			stats.Errors++
			s.logger.ErrorContext(ctx, "Failed to process due entry", "entry_id", entry.ID, "error", err)
		}
	}

	if err := s.reofferDispatchables(ctx, asOf, &stats); err != nil {
		stats.Errors++
		s.logger.ErrorContext(ctx, "Failed to re-offer dispatchable outcomes", "error", err)
	}

	return stats, nil
}

func (s *Scheduler) processDueEntry(ctx context.Context, entry *contentplan.Entry, stats *TickStats) error {
	if err := s.entries.ClaimEntry(ctx, entry.ID); err != nil {
		switch {
		case errors.Is(err, contentplan.ErrInvalidTransition):
			// Another scheduler instance won the claim.
			stats.ClaimLost++
			entriesClaimedCounter.WithLabelValues("lost").Inc()
			return nil
		case errors.Is(err, contentplan.ErrEntryNotFound):
			stats.ClaimLost++
			entriesClaimedCounter.WithLabelValues("lost").Inc()
			return nil
		default:
			entriesClaimedCounter.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to claim entry: %w", err)
		}
	}
	stats.Claimed++
	entriesClaimedCounter.WithLabelValues("claimed").Inc()

	recipients, err := s.users.ListDirectReferrals(ctx, entry.OwnerID)
	if err != nil {
		if errors.Is(err, referral.ErrUserNotFound) {
			s.logger.WarnContext(ctx, "Entry owner no longer exists, failing entry", "entry_id", entry.ID, "owner_id", entry.OwnerID)
			if mErr := s.entries.MarkEntryFailed(ctx, entry.ID, "owner not found"); mErr != nil {
				return fmt.Errorf("failed to mark entry failed: %w", mErr)
			}
			return nil
		}
		// The entry stays in_progress; the stale-pending re-offer path
		// cannot see it (no outcome rows yet), so surface loudly.
		return fmt.Errorf("failed to resolve recipients: %w", err)
	}
	fanoutSizeHist.Observe(float64(len(recipients)))

	if len(recipients) == 0 {
		// Nothing to deliver: the entry completes immediately.
		status, err := s.entries.FinalizeEntry(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("failed to finalize empty entry: %w", err)
		}
		s.logger.InfoContext(ctx, "Entry had no recipients, finalized", "entry_id", entry.ID, "status", status)
		return nil
	}

	recipientIDs := make([]int64, len(recipients))
	for i, r := range recipients {
		recipientIDs[i] = r.ID
	}
	if err := s.entries.CreateOutcomes(ctx, entry.ID, recipientIDs); err != nil {
		return fmt.Errorf("failed to create outcomes: %w", err)
	}

	s.logger.InfoContext(ctx, "Entry claimed and fanned out",
		"entry_id", entry.ID, "owner_id", entry.OwnerID, "recipients", len(recipientIDs))

	for _, recipientID := range recipientIDs {
		if err := s.publishJob(ctx, entry.ID, recipientID, "fanout"); err != nil {
			// Lost publishes are re-offered as stale pending outcomes on
			// a later tick.
			stats.Errors++
			s.logger.ErrorContext(ctx, "Failed to publish delivery job",
				"entry_id", entry.ID, "recipient_id", recipientID, "error", err)
			continue
		}
		stats.JobsPublished++
	}
	return nil
}

func (s *Scheduler) reofferDispatchables(ctx context.Context, asOf time.Time, stats *TickStats) error {
	outcomes, err := s.entries.ListDispatchableOutcomes(ctx, asOf, s.config.MaxAttempts, s.config.RepublishAfter, s.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list dispatchable outcomes: %w", err)
	}

	for _, o := range outcomes {
		if err := s.publishJob(ctx, o.EntryID, o.RecipientID, "reoffer"); err != nil {
			stats.Errors++
			s.logger.ErrorContext(ctx, "Failed to re-offer delivery job",
				"entry_id", o.EntryID, "recipient_id", o.RecipientID, "error", err)
			continue
		}
		stats.Reoffered++
	}
	return nil
}

func (s *Scheduler) publishJob(ctx context.Context, entryID, recipientID int64, phase string) error {
	job := contentplan.DeliveryJob{
		JobID:       uuid.NewString(),
		EntryID:     entryID,
		RecipientID: recipientID,
	}
	data, err := json.Marshal(job)
	if err != nil {
		jobsPublishedCounter.WithLabelValues(phase, "error").Inc()
		return fmt.Errorf("failed to marshal delivery job: %w", err)
	}
	if err := s.publisher.Publish(ctx, contentplan.DeliveryJobSubject, data); err != nil {
		jobsPublishedCounter.WithLabelValues(phase, "error").Inc()
		return fmt.Errorf("failed to publish delivery job: %w", err)
	}
	jobsPublishedCounter.WithLabelValues(phase, "success").Inc()
	return nil
}
