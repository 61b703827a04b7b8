package http

import (
	"time"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	referral "github.com/referkit/referkit/internal/referral/domain"
)

// CreateUserRequestDTO defines the payload for registering a user.
type CreateUserRequestDTO struct {
	TelegramID string `json:"telegram_id" validate:"required,min=1,max=64"`
	Username   string `json:"username,omitempty" validate:"max=64"`
	Name       string `json:"name,omitempty" validate:"max=128"`
	ProfileURL string `json:"profile_url,omitempty" validate:"omitempty,url,max=512"`
	ReferrerID *int64 `json:"referrer_id,omitempty" validate:"omitempty,gt=0"`
}

// UserResponseDTO is the API shape of a user.
type UserResponseDTO struct {
	ID         int64     `json:"id"`
	TelegramID string    `json:"telegram_id"`
	Username   string    `json:"username,omitempty"`
	Name       string    `json:"name,omitempty"`
	ProfileURL string    `json:"profile_url,omitempty"`
	ReferrerID *int64    `json:"referrer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toUserResponseDTO(u *referral.User) UserResponseDTO {
	return UserResponseDTO{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		Name:       u.Name,
		ProfileURL: u.ProfileURL,
		ReferrerID: u.ReferrerID,
		CreatedAt:  u.CreatedAt,
	}
}

// ReferralListResponseDTO wraps a referral listing.
type ReferralListResponseDTO struct {
	UserID     int64             `json:"user_id"`
	Transitive bool              `json:"transitive"`
	Count      int               `json:"count"`
	Referrals  []UserResponseDTO `json:"referrals"`
}

// CreateEntryRequestDTO defines the payload for scheduling a content
// plan entry. ScheduledAt is RFC 3339 and must be in the future.
type CreateEntryRequestDTO struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	MessageText string    `json:"message_text" validate:"required,min=1,max=4096"`
	MediaRefs   []string  `json:"media_refs,omitempty" validate:"max=10,dive,min=1,max=512"`
}

// EntryResponseDTO is the API shape of a content plan entry. Stats is
// populated only on single-entry reads.
type EntryResponseDTO struct {
	ID            int64                   `json:"id"`
	OwnerID       int64                   `json:"owner_id"`
	ScheduledAt   time.Time               `json:"scheduled_at"`
	MessageText   string                  `json:"message_text"`
	MediaRefs     []string                `json:"media_refs,omitempty"`
	Status        string                  `json:"status"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Stats         *contentplan.EntryStats `json:"stats,omitempty"`
}

func toEntryResponseDTO(e *contentplan.Entry) EntryResponseDTO {
	return EntryResponseDTO{
		ID:            e.ID,
		OwnerID:       e.OwnerID,
		ScheduledAt:   e.ScheduledAt,
		MessageText:   e.MessageText,
		MediaRefs:     e.MediaRefs,
		Status:        string(e.Status),
		FailureReason: e.FailureReason,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

// OutcomeResponseDTO is the API shape of a per-recipient delivery
// outcome.
type OutcomeResponseDTO struct {
	EntryID       int64      `json:"entry_id"`
	RecipientID   int64      `json:"recipient_id"`
	Status        string     `json:"status"`
	AttemptCount  int        `json:"attempt_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

func toOutcomeResponseDTO(o *contentplan.Outcome) OutcomeResponseDTO {
	return OutcomeResponseDTO{
		EntryID:       o.EntryID,
		RecipientID:   o.RecipientID,
		Status:        string(o.Status),
		AttemptCount:  o.AttemptCount,
		LastAttemptAt: o.LastAttemptAt,
		LastError:     o.LastError,
	}
}

// GenericErrorResponse for API errors.
type GenericErrorResponse struct {
	Error string `json:"error"`
}
