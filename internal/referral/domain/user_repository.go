package domain

import "context"

// UserRepository defines the interface for the referral graph store.
type UserRepository interface {
	// Create inserts a new user. It fails with ErrCyclicReferral if the
	// referrer equals the new user or the referrer chain would close a
	// cycle, and with ErrUserNotFound if the referrer id is unknown.
	Create(ctx context.Context, user *User) error

	GetByID(ctx context.Context, id int64) (*User, error)

	// GetReferrer returns the user's referrer, or (nil, nil) for root
	// users.
	GetReferrer(ctx context.Context, id int64) (*User, error)

	// ListDirectReferrals returns the users whose referrer is id
	// (direct edges only, not transitive).
	ListDirectReferrals(ctx context.Context, id int64) ([]*User, error)

	CountDirectReferrals(ctx context.Context, id int64) (int, error)

	// ListReferralsTransitive walks the referral forest breadth-first
	// and returns every referral reachable from id.
	ListReferralsTransitive(ctx context.Context, id int64) ([]*User, error)
}
