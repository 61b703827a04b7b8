package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	referral "github.com/referkit/referkit/internal/referral/domain"
)

// --- Mocks ---

type MockEntryRepository struct {
	mock.Mock
}

func (m *MockEntryRepository) CreateEntry(ctx context.Context, entry *contentplan.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockEntryRepository) GetEntry(ctx context.Context, id int64) (*contentplan.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*contentplan.Entry), args.Error(1)
}

func (m *MockEntryRepository) ListEntriesByOwner(ctx context.Context, ownerID int64) ([]*contentplan.Entry, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*contentplan.Entry), args.Error(1)
}

func (m *MockEntryRepository) ListDueEntries(ctx context.Context, asOf time.Time, limit int) ([]*contentplan.Entry, error) {
	args := m.Called(ctx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*contentplan.Entry), args.Error(1)
}

func (m *MockEntryRepository) ClaimEntry(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockEntryRepository) CreateOutcomes(ctx context.Context, entryID int64, recipientIDs []int64) error {
	args := m.Called(ctx, entryID, recipientIDs)
	return args.Error(0)
}

func (m *MockEntryRepository) GetOutcome(ctx context.Context, entryID, recipientID int64) (*contentplan.Outcome, error) {
	args := m.Called(ctx, entryID, recipientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*contentplan.Outcome), args.Error(1)
}

func (m *MockEntryRepository) ListOutcomes(ctx context.Context, entryID int64) ([]*contentplan.Outcome, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*contentplan.Outcome), args.Error(1)
}

func (m *MockEntryRepository) RecordAttempt(ctx context.Context, entryID, recipientID int64, status contentplan.OutcomeStatus, lastError string, maxAttempts int) (contentplan.OutcomeStatus, int, error) {
	args := m.Called(ctx, entryID, recipientID, status, lastError, maxAttempts)
	return args.Get(0).(contentplan.OutcomeStatus), args.Int(1), args.Error(2)
}

func (m *MockEntryRepository) ListDispatchableOutcomes(ctx context.Context, asOf time.Time, maxAttempts int, republishAfter time.Duration, limit int) ([]*contentplan.Outcome, error) {
	args := m.Called(ctx, asOf, maxAttempts, republishAfter, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*contentplan.Outcome), args.Error(1)
}

func (m *MockEntryRepository) FinalizeEntry(ctx context.Context, entryID int64) (contentplan.EntryStatus, error) {
	args := m.Called(ctx, entryID)
	return args.Get(0).(contentplan.EntryStatus), args.Error(1)
}

func (m *MockEntryRepository) MarkEntryFailed(ctx context.Context, entryID int64, reason string) error {
	args := m.Called(ctx, entryID, reason)
	return args.Error(0)
}

func (m *MockEntryRepository) CancelEntry(ctx context.Context, entryID, ownerID int64) error {
	args := m.Called(ctx, entryID, ownerID)
	return args.Error(0)
}

func (m *MockEntryRepository) GetEntryStats(ctx context.Context, entryID int64) (*contentplan.EntryStats, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*contentplan.EntryStats), args.Error(1)
}

type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *referral.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id int64) (*referral.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*referral.User), args.Error(1)
}

func (m *MockUserRepository) GetReferrer(ctx context.Context, id int64) (*referral.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*referral.User), args.Error(1)
}

func (m *MockUserRepository) ListDirectReferrals(ctx context.Context, id int64) ([]*referral.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*referral.User), args.Error(1)
}

func (m *MockUserRepository) CountDirectReferrals(ctx context.Context, id int64) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepository) ListReferralsTransitive(ctx context.Context, id int64) ([]*referral.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*referral.User), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

// --- Test Setup ---

type schedulerTestComponents struct {
	scheduler     *Scheduler
	mockEntries   *MockEntryRepository
	mockUsers     *MockUserRepository
	mockPublisher *MockPublisher
}

func setupSchedulerTest(t *testing.T) schedulerTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockEntries := new(MockEntryRepository)
	mockUsers := new(MockUserRepository)
	mockPublisher := new(MockPublisher)

	scheduler := NewScheduler(mockEntries, mockUsers, mockPublisher, logger, Config{
		TickInterval:   time.Minute,
		BatchSize:      10,
		MaxAttempts:    5,
		RepublishAfter: 5 * time.Minute,
	})

	return schedulerTestComponents{
		scheduler:     scheduler,
		mockEntries:   mockEntries,
		mockUsers:     mockUsers,
		mockPublisher: mockPublisher,
	}
}

func dueEntry(id, ownerID int64) *contentplan.Entry {
	return &contentplan.Entry{
		ID:          id,
		OwnerID:     ownerID,
		ScheduledAt: time.Now().UTC().Add(-time.Minute),
		MessageText: "hello {recipient_name}",
		Status:      contentplan.EntryStatusPending,
	}
}

// --- Tests ---

func TestScheduler_RunTick(t *testing.T) {
	ctx := context.Background()
	asOf := time.Now().UTC()

	t.Run("ClaimsAndFansOutDueEntry", func(t *testing.T) {
		comps := setupSchedulerTest(t)
		entry := dueEntry(1, 100)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return([]*contentplan.Entry{entry}, nil)
		comps.mockEntries.On("ClaimEntry", ctx, int64(1)).Return(nil)
		comps.mockUsers.On("ListDirectReferrals", ctx, int64(100)).Return([]*referral.User{
			{ID: 201}, {ID: 202},
		}, nil)
		comps.mockEntries.On("CreateOutcomes", ctx, int64(1), []int64{201, 202}).Return(nil)
		comps.mockPublisher.On("Publish", ctx, contentplan.DeliveryJobSubject, mock.Anything).Return(nil).Twice()
		comps.mockEntries.On("ListDispatchableOutcomes", ctx, asOf, 5, 5*time.Minute, 10).Return([]*contentplan.Outcome(nil), nil)

		stats, err := comps.scheduler.RunTick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.DueSeen)
		assert.Equal(t, 1, stats.Claimed)
		assert.Equal(t, 2, stats.JobsPublished)
		assert.Equal(t, 0, stats.Errors)
		comps.mockEntries.AssertExpectations(t)
		comps.mockPublisher.AssertExpectations(t)
	})

	t.Run("LostClaimIsSkippedSilently", func(t *testing.T) {
		comps := setupSchedulerTest(t)
		entry := dueEntry(2, 100)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return([]*contentplan.Entry{entry}, nil)
		comps.mockEntries.On("ClaimEntry", ctx, int64(2)).Return(contentplan.ErrInvalidTransition)
		comps.mockEntries.On("ListDispatchableOutcomes", ctx, asOf, 5, 5*time.Minute, 10).Return([]*contentplan.Outcome(nil), nil)

		stats, err := comps.scheduler.RunTick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.ClaimLost)
		assert.Equal(t, 0, stats.Claimed)
		assert.Equal(t, 0, stats.Errors)
		comps.mockUsers.AssertNotCalled(t, "ListDirectReferrals", mock.Anything, mock.Anything)
		comps.mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MissingOwnerFailsEntry", func(t *testing.T) {
		comps := setupSchedulerTest(t)
		entry := dueEntry(3, 999)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return([]*contentplan.Entry{entry}, nil)
		comps.mockEntries.On("ClaimEntry", ctx, int64(3)).Return(nil)
		comps.mockUsers.On("ListDirectReferrals", ctx, int64(999)).Return(nil, referral.ErrUserNotFound)
		comps.mockEntries.On("MarkEntryFailed", ctx, int64(3), "owner not found").Return(nil)
		comps.mockEntries.On("ListDispatchableOutcomes", ctx, asOf, 5, 5*time.Minute, 10).Return([]*contentplan.Outcome(nil), nil)

		stats, err := comps.scheduler.RunTick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Errors)
		comps.mockEntries.AssertExpectations(t)
		comps.mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("EmptyRecipientSetFinalizesImmediately", func(t *testing.T) {
		comps := setupSchedulerTest(t)
		entry := dueEntry(4, 100)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return([]*contentplan.Entry{entry}, nil)
		comps.mockEntries.On("ClaimEntry", ctx, int64(4)).Return(nil)
		comps.mockUsers.On("ListDirectReferrals", ctx, int64(100)).Return([]*referral.User{}, nil)
		comps.mockEntries.On("FinalizeEntry", ctx, int64(4)).Return(contentplan.EntryStatusCompleted, nil)
		comps.mockEntries.On("ListDispatchableOutcomes", ctx, asOf, 5, 5*time.Minute, 10).Return([]*contentplan.Outcome(nil), nil)

		stats, err := comps.scheduler.RunTick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.JobsPublished)
		comps.mockEntries.AssertExpectations(t)
		comps.mockEntries.AssertNotCalled(t, "CreateOutcomes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("PublishFailureCountsErrorButContinues", func(t *testing.T) {
		comps := setupSchedulerTest(t)
		entry := dueEntry(5, 100)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return([]*contentplan.Entry{entry}, nil)
		comps.mockEntries.On("ClaimEntry", ctx, int64(5)).Return(nil)
		comps.mockUsers.On("ListDirectReferrals", ctx, int64(100)).Return([]*referral.User{
			{ID: 201}, {ID: 202},
		}, nil)
		comps.mockEntries.On("CreateOutcomes", ctx, int64(5), []int64{201, 202}).Return(nil)
		comps.mockPublisher.On("Publish", ctx, contentplan.DeliveryJobSubject, mock.Anything).
			Return(errors.New("nats down")).Once()
		comps.mockPublisher.On("Publish", ctx, contentplan.DeliveryJobSubject, mock.Anything).
			Return(nil).Once()
		comps.mockEntries.On("ListDispatchableOutcomes", ctx, asOf, 5, 5*time.Minute, 10).Return([]*contentplan.Outcome(nil), nil)

		stats, err := comps.scheduler.RunTick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.JobsPublished)
		assert.Equal(t, 1, stats.Errors)
	})

	t.Run("ReoffersDispatchableOutcomes", func(t *testing.T) {
		comps := setupSchedulerTest(t)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return([]*contentplan.Entry{}, nil)
		comps.mockEntries.On("ListDispatchableOutcomes", ctx, asOf, 5, 5*time.Minute, 10).Return([]*contentplan.Outcome{
			{EntryID: 7, RecipientID: 301, Status: contentplan.OutcomeStatusFailedRetryable, AttemptCount: 2},
			{EntryID: 7, RecipientID: 302, Status: contentplan.OutcomeStatusPending},
		}, nil)
		comps.mockPublisher.On("Publish", ctx, contentplan.DeliveryJobSubject, mock.Anything).Return(nil).Twice()

		stats, err := comps.scheduler.RunTick(ctx, asOf)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Reoffered)
		comps.mockPublisher.AssertExpectations(t)
	})

	t.Run("ListDueEntriesErrorIsFatalForTick", func(t *testing.T) {
		comps := setupSchedulerTest(t)

		comps.mockEntries.On("ListDueEntries", ctx, asOf, 10).Return(nil, errors.New("db down"))

		_, err := comps.scheduler.RunTick(ctx, asOf)
		assert.Error(t, err)
	})
}
