package domain

import (
	"time"
)

// EntryStatus is the entry-level delivery state.
type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"     // scheduled, not yet claimed
	EntryStatusInProgress EntryStatus = "in_progress" // claimed by a scheduler worker
	EntryStatusCompleted  EntryStatus = "completed"   // every outcome is terminal
	EntryStatusFailed     EntryStatus = "failed"      // structural failure (e.g. owner deleted)
)

// Entry is one scheduled message of a user's content plan: text plus
// media references, fanned out to the owner's direct referrals once
// ScheduledAt arrives. Content fields are immutable once the entry
// leaves pending; only status and failure fields change after that.
type Entry struct {
	ID            int64       `json:"id"`
	OwnerID       int64       `json:"owner_id"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
	MessageText   string      `json:"message_text"`
	MediaRefs     []string    `json:"media_refs,omitempty"`
	Status        EntryStatus `json:"status"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewEntry validates and builds a pending entry. scheduledAt must be
// strictly after now.
func NewEntry(ownerID int64, scheduledAt time.Time, messageText string, mediaRefs []string, now time.Time) (*Entry, error) {
	if !scheduledAt.After(now) {
		return nil, ErrInvalidSchedule
	}
	return &Entry{
		OwnerID:     ownerID,
		ScheduledAt: scheduledAt.UTC(),
		MessageText: messageText,
		MediaRefs:   mediaRefs,
		Status:      EntryStatusPending,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}
