package domain

import "errors"

var (
	// ErrInvalidSchedule indicates a scheduled_at that is not strictly
	// in the future at creation time.
	ErrInvalidSchedule = errors.New("scheduled_at must be in the future")
	// ErrInvalidTransition indicates a conditional status transition
	// that did not apply, e.g. a claim lost to a concurrent worker.
	ErrInvalidTransition = errors.New("invalid entry status transition")
	// ErrEntryNotFound indicates a lookup on an unknown entry id.
	ErrEntryNotFound = errors.New("content plan entry not found")
	// ErrOutcomeNotFound indicates a lookup on an unknown
	// (entry, recipient) outcome pair.
	ErrOutcomeNotFound = errors.New("delivery outcome not found")
)
