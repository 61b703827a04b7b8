package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

	t.Run("ValidFutureSchedule", func(t *testing.T) {
		entry, err := NewEntry(1, now.Add(time.Hour), "hello", []string{"ref-1"}, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), entry.OwnerID)
		assert.Equal(t, EntryStatusPending, entry.Status)
		assert.Equal(t, now.Add(time.Hour), entry.ScheduledAt)
		assert.Equal(t, []string{"ref-1"}, entry.MediaRefs)
	})

	t.Run("PastScheduleRejected", func(t *testing.T) {
		_, err := NewEntry(1, now.Add(-time.Minute), "hello", nil, now)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})

	t.Run("ExactlyNowRejected", func(t *testing.T) {
		_, err := NewEntry(1, now, "hello", nil, now)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	})
}

func TestOutcomeStatusTerminal(t *testing.T) {
	assert.True(t, OutcomeStatusSent.Terminal())
	assert.True(t, OutcomeStatusFailedPermanent.Terminal())
	assert.False(t, OutcomeStatusPending.Terminal())
	assert.False(t, OutcomeStatusFailedRetryable.Terminal())
}
