package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	referral "github.com/referkit/referkit/internal/referral/domain"
)

// --- Mocks ---

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

// --- Test Setup ---

type apiTestComponents struct {
	router      http.Handler
	mockUsers   *MockUserRepository
	mockEntries *MockEntryRepository
}

func setupAPITest(t *testing.T) apiTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockUsers := new(MockUserRepository)
	mockEntries := new(MockEntryRepository)
	return apiTestComponents{
		router:      NewRouter(mockUsers, mockEntries, logger),
		mockUsers:   mockUsers,
		mockEntries: mockEntries,
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestUserEndpoints(t *testing.T) {
	t.Run("CreateUserSucceeds", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("Create", mock.Anything, mock.MatchedBy(func(u *referral.User) bool {
			return u.TelegramID == "555" && u.ReferrerID != nil && *u.ReferrerID == 1
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*referral.User).ID = 42
		}).Return(nil)

		rec := doJSON(t, comps.router, http.MethodPost, "/api/users", CreateUserRequestDTO{
			TelegramID: "555",
			Name:       "Alice",
			ReferrerID: ptrInt64(1),
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp UserResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(42), resp.ID)
		assert.Equal(t, "555", resp.TelegramID)
	})

	t.Run("CreateUserValidationFailure", func(t *testing.T) {
		comps := setupAPITest(t)
		rec := doJSON(t, comps.router, http.MethodPost, "/api/users", map[string]any{"name": "no telegram id"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		comps.mockUsers.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("CreateDuplicateUserConflicts", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("Create", mock.Anything, mock.Anything).Return(referral.ErrDuplicateUser)

		rec := doJSON(t, comps.router, http.MethodPost, "/api/users", CreateUserRequestDTO{TelegramID: "555"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("CreateUserWithUnknownReferrer", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("Create", mock.Anything, mock.Anything).Return(referral.ErrUserNotFound)

		rec := doJSON(t, comps.router, http.MethodPost, "/api/users", CreateUserRequestDTO{
			TelegramID: "555", ReferrerID: ptrInt64(999),
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("GetUserNotFound", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("GetByID", mock.Anything, int64(7)).Return(nil, referral.ErrUserNotFound)

		rec := doJSON(t, comps.router, http.MethodGet, "/api/users/7", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GetUserInvalidID", func(t *testing.T) {
		comps := setupAPITest(t)
		rec := doJSON(t, comps.router, http.MethodGet, "/api/users/abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("ListDirectReferrals", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("ListDirectReferrals", mock.Anything, int64(1)).Return([]*referral.User{
			{ID: 2, TelegramID: "a"}, {ID: 3, TelegramID: "b"},
		}, nil)

		rec := doJSON(t, comps.router, http.MethodGet, "/api/users/1/referrals", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ReferralListResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Transitive)
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("ListTransitiveReferrals", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("ListReferralsTransitive", mock.Anything, int64(1)).Return([]*referral.User{
			{ID: 2}, {ID: 3}, {ID: 4},
		}, nil)

		rec := doJSON(t, comps.router, http.MethodGet, "/api/users/1/referrals?transitive=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ReferralListResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Transitive)
		assert.Equal(t, 3, resp.Count)
		comps.mockUsers.AssertNotCalled(t, "ListDirectReferrals", mock.Anything, mock.Anything)
	})
}

func TestPlanEndpoints(t *testing.T) {
	owner := &referral.User{ID: 1, TelegramID: "owner"}

	t.Run("CreateEntrySucceeds", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("GetByID", mock.Anything, int64(1)).Return(owner, nil)
		comps.mockEntries.On("CreateEntry", mock.Anything, mock.MatchedBy(func(e *contentplan.Entry) bool {
			return e.OwnerID == 1 && e.Status == contentplan.EntryStatusPending
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*contentplan.Entry).ID = 10
		}).Return(nil)

		rec := doJSON(t, comps.router, http.MethodPost, "/api/users/1/plan", CreateEntryRequestDTO{
			ScheduledAt: time.Now().UTC().Add(time.Hour),
			MessageText: "hello {recipient_name}",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp EntryResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(10), resp.ID)
		assert.Equal(t, "pending", resp.Status)
	})

	t.Run("CreateEntryInPastRejected", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("GetByID", mock.Anything, int64(1)).Return(owner, nil)

		rec := doJSON(t, comps.router, http.MethodPost, "/api/users/1/plan", CreateEntryRequestDTO{
			ScheduledAt: time.Now().UTC().Add(-time.Hour),
			MessageText: "too late",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		comps.mockEntries.AssertNotCalled(t, "CreateEntry", mock.Anything, mock.Anything)
	})

	t.Run("CreateEntryForUnknownOwner", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockUsers.On("GetByID", mock.Anything, int64(9)).Return(nil, referral.ErrUserNotFound)

		rec := doJSON(t, comps.router, http.MethodPost, "/api/users/9/plan", CreateEntryRequestDTO{
			ScheduledAt: time.Now().UTC().Add(time.Hour),
			MessageText: "hello",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("GetEntryIncludesStats", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockEntries.On("GetEntry", mock.Anything, int64(10)).Return(&contentplan.Entry{
			ID: 10, OwnerID: 1, Status: contentplan.EntryStatusCompleted,
		}, nil)
		comps.mockEntries.On("GetEntryStats", mock.Anything, int64(10)).Return(&contentplan.EntryStats{
			Total: 3, Sent: 2, FailedPermanent: 1,
		}, nil)

		rec := doJSON(t, comps.router, http.MethodGet, "/api/plan/10", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp EntryResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Stats)
		assert.Equal(t, 3, resp.Stats.Total)
		assert.Equal(t, 2, resp.Stats.Sent)
	})

	t.Run("ListOutcomes", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockEntries.On("GetEntry", mock.Anything, int64(10)).Return(&contentplan.Entry{ID: 10}, nil)
		comps.mockEntries.On("ListOutcomes", mock.Anything, int64(10)).Return([]*contentplan.Outcome{
			{EntryID: 10, RecipientID: 2, Status: contentplan.OutcomeStatusSent, AttemptCount: 1},
		}, nil)

		rec := doJSON(t, comps.router, http.MethodGet, "/api/plan/10/outcomes", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp []OutcomeResponseDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp, 1)
		assert.Equal(t, "sent", resp[0].Status)
	})

	t.Run("CancelPendingEntry", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockEntries.On("CancelEntry", mock.Anything, int64(10), int64(1)).Return(nil)

		rec := doJSON(t, comps.router, http.MethodDelete, "/api/users/1/plan/10", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("CancelClaimedEntryConflicts", func(t *testing.T) {
		comps := setupAPITest(t)
		comps.mockEntries.On("CancelEntry", mock.Anything, int64(10), int64(1)).
			Return(fmt.Errorf("entry 10 is in_progress: %w", contentplan.ErrInvalidTransition))

		rec := doJSON(t, comps.router, http.MethodDelete, "/api/users/1/plan/10", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func ptrInt64(v int64) *int64 { return &v }
