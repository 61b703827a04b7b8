package domain

import "errors"

var (
	// ErrUserNotFound indicates a lookup on an unknown user id.
	ErrUserNotFound = errors.New("user not found")
	// ErrCyclicReferral indicates an insertion that would break the
	// forest invariant (self-referral or a closed referrer chain).
	ErrCyclicReferral = errors.New("referral would create a cycle")
	// ErrDuplicateUser indicates a user with the same telegram id
	// already exists.
	ErrDuplicateUser = errors.New("user already exists")
)
