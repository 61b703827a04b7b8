package domain

import (
	"time"
)

// User is a participant of the referral program. ReferrerID points at
// the user whose invitation link this user joined through; it is nil
// for root users. The referrer relation forms a forest: every user has
// at most one referrer and the chain of referrers never cycles.
type User struct {
	ID         int64     `json:"id"`
	TelegramID string    `json:"telegram_id"` // external messaging address
	Username   string    `json:"username,omitempty"`
	Name       string    `json:"name,omitempty"`
	ProfileURL string    `json:"profile_url,omitempty"`
	ReferrerID *int64    `json:"referrer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewUser creates a User record pending insertion. referrerID may be
// nil for root users.
func NewUser(telegramID, username, name, profileURL string, referrerID *int64) *User {
	return &User{
		TelegramID: telegramID,
		Username:   username,
		Name:       name,
		ProfileURL: profileURL,
		ReferrerID: referrerID,
		CreatedAt:  time.Now().UTC(),
	}
}
