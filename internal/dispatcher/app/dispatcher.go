package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	"github.com/referkit/referkit/internal/personalize"
	referral "github.com/referkit/referkit/internal/referral/domain"
	"github.com/referkit/referkit/internal/transport"
)

// Config holds the dispatcher's tuning knobs.
type Config struct {
	Workers         int
	QueueGroup      string
	DispatchTimeout time.Duration
	MaxAttempts     int
}

// Dispatcher executes delivery jobs: it loads the outcome and its
// entry, renders the message for the recipient, sends it through the
// transport and records the attempt. Jobs are at-least-once; terminal
// outcomes make redelivered jobs no-ops.
type Dispatcher struct {
	entries contentplan.EntryRepository
	users   referral.UserRepository
	sender  transport.Sender
	logger  *slog.Logger
	config  Config
}

// NewDispatcher creates a Dispatcher instance.
func NewDispatcher(
	entries contentplan.EntryRepository,
	users referral.UserRepository,
	sender transport.Sender,
	logger *slog.Logger,
	cfg Config,
) *Dispatcher {
	return &Dispatcher{
		entries: entries,
		users:   users,
		sender:  sender,
		logger:  logger,
		config:  cfg,
	}
}

// Deliver processes one delivery job end to end. Errors it returns are
// infrastructure failures (store unreachable); delivery failures are
// absorbed into the outcome row instead.
func (d *Dispatcher) Deliver(ctx context.Context, job contentplan.DeliveryJob) error {
	timer := prometheus.NewTimer(deliveryDurationHist.WithLabelValues(d.sender.Name()))
	defer timer.ObserveDuration()

	logger := d.logger.With("job_id", job.JobID, "entry_id", job.EntryID, "recipient_id", job.RecipientID)

	outcome, err := d.entries.GetOutcome(ctx, job.EntryID, job.RecipientID)
	if err != nil {
		if errors.Is(err, contentplan.ErrOutcomeNotFound) {
			logger.WarnContext(ctx, "Delivery job references unknown outcome, dropping")
			deliveriesCounter.WithLabelValues(d.sender.Name(), "skipped").Inc()
			return nil
		}
		return fmt.Errorf("failed to load outcome: %w", err)
	}
	if outcome.Status.Terminal() {
		// Duplicate hand-off of an already-settled recipient.
		logger.DebugContext(ctx, "Outcome already terminal, dropping job", "status", outcome.Status)
		deliveriesCounter.WithLabelValues(d.sender.Name(), "skipped").Inc()
		return nil
	}

	entry, err := d.entries.GetEntry(ctx, job.EntryID)
	if err != nil {
		if errors.Is(err, contentplan.ErrEntryNotFound) {
			logger.WarnContext(ctx, "Delivery job references deleted entry, dropping")
			deliveriesCounter.WithLabelValues(d.sender.Name(), "skipped").Inc()
			return nil
		}
		return fmt.Errorf("failed to load entry: %w", err)
	}
	if entry.Status != contentplan.EntryStatusInProgress {
		logger.InfoContext(ctx, "Entry no longer in progress, dropping job", "entry_status", entry.Status)
		deliveriesCounter.WithLabelValues(d.sender.Name(), "skipped").Inc()
		return nil
	}

	recipient, err := d.users.GetByID(ctx, job.RecipientID)
	if err != nil {
		if errors.Is(err, referral.ErrUserNotFound) {
			return d.settle(ctx, logger, job, outcome, contentplan.OutcomeStatusFailedPermanent, "recipient no longer exists")
		}
		return fmt.Errorf("failed to load recipient: %w", err)
	}

	owner, err := d.users.GetByID(ctx, entry.OwnerID)
	if err != nil {
		if errors.Is(err, referral.ErrUserNotFound) {
			return d.settle(ctx, logger, job, outcome, contentplan.OutcomeStatusFailedPermanent, "entry owner no longer exists")
		}
		return fmt.Errorf("failed to load entry owner: %w", err)
	}

	// Best effort: a failed count lookup renders {referral_count} as 0
	// rather than blocking the send.
	referralCount, err := d.users.CountDirectReferrals(ctx, recipient.ID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to count recipient referrals, rendering zero", "error", err)
		referralCount = 0
	}

	text, mediaRefs := personalize.Render(entry.MessageText, entry.MediaRefs, personalize.Context{
		RecipientName: recipient.Name,
		OwnerName:     owner.Name,
		OwnerLink:     owner.ProfileURL,
		ReferralCount: referralCount,
	})

	sendCtx, cancel := context.WithTimeout(ctx, d.config.DispatchTimeout)
	defer cancel()

	sendTimer := prometheus.NewTimer(transportRequestDurationHist.WithLabelValues(d.sender.Name()))
	receipt, sendErr := d.sender.Send(sendCtx, transport.Message{
		RecipientAddress: recipient.TelegramID,
		Text:             text,
		MediaRefs:        mediaRefs,
	})
	sendTimer.ObserveDuration()

	if sendErr == nil {
		logger.InfoContext(ctx, "Message delivered",
			"transport", d.sender.Name(), "provider_message_id", receipt.ProviderMessageID)
		return d.settle(ctx, logger, job, outcome, contentplan.OutcomeStatusSent, "")
	}

	status := d.classifyFailure(outcome, sendErr)
	logger.WarnContext(ctx, "Delivery attempt failed",
		"transport", d.sender.Name(), "error", sendErr, "next_status", status,
		"attempt", outcome.AttemptCount+1, "max_attempts", d.config.MaxAttempts)
	return d.settle(ctx, logger, job, outcome, status, sendErr.Error())
}

// classifyFailure maps a send error onto the next outcome status. The
// attempt count read here may be stale under concurrent duplicate
// jobs; the store re-applies the cap against the stored count when the
// attempt is recorded, so this downgrade is only the common-case call.
func (d *Dispatcher) classifyFailure(outcome *contentplan.Outcome, sendErr error) contentplan.OutcomeStatus {
	if !transport.IsRetryable(sendErr) {
		return contentplan.OutcomeStatusFailedPermanent
	}
	if outcome.AttemptCount+1 >= d.config.MaxAttempts {
		return contentplan.OutcomeStatusFailedPermanent
	}
	return contentplan.OutcomeStatusFailedRetryable
}

// settle records the attempt and, when the outcome went terminal,
// tries to finalize the entry. The store returns the status it
// actually kept (it may downgrade a capped retryable write to
// permanent), and that stored status drives finalization. Finalization
// is conditional in the store, so concurrent dispatchers settling the
// last outcomes race safely.
func (d *Dispatcher) settle(ctx context.Context, logger *slog.Logger, job contentplan.DeliveryJob, outcome *contentplan.Outcome, status contentplan.OutcomeStatus, lastError string) error {
	recorded, attempts, err := d.entries.RecordAttempt(ctx, job.EntryID, job.RecipientID, status, lastError, d.config.MaxAttempts)
	if err != nil {
		deliveriesCounter.WithLabelValues(d.sender.Name(), "error").Inc()
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	deliveriesCounter.WithLabelValues(d.sender.Name(), string(recorded)).Inc()
	if recorded != status {
		logger.WarnContext(ctx, "Attempt cap reached by a concurrent attempt, outcome downgraded",
			"requested_status", status, "recorded_status", recorded, "attempts", attempts)
	}

	if !recorded.Terminal() {
		return nil
	}

	entryStatus, err := d.entries.FinalizeEntry(ctx, job.EntryID)
	if err != nil {
		if errors.Is(err, contentplan.ErrEntryNotFound) {
			return nil
		}
		return fmt.Errorf("failed to finalize entry: %w", err)
	}
	if entryStatus == contentplan.EntryStatusCompleted {
		logger.InfoContext(ctx, "Entry completed", "attempts", attempts)
	}
	return nil
}
