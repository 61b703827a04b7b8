// Package transport is the boundary to the external messaging system.
// The dispatcher only depends on the Sender interface; concrete
// senders classify their failures as retryable or permanent so the
// retry policy can act on them.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Message is one rendered message addressed to one recipient.
type Message struct {
	RecipientAddress string
	Text             string
	MediaRefs        []string
}

// Receipt is the transport's acknowledgment of a successful send.
type Receipt struct {
	ProviderMessageID string
}

// Sender submits a message to the external transport. Implementations
// must respect ctx cancellation and deadlines.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Receipt, error)
	Name() string
}

// Error is a classified transport failure. Retryable failures
// (timeouts, rate limits, transient provider errors) are retried with
// bounded backoff; permanent ones (blocked or unknown recipient) are
// not.
type Error struct {
	Reason    string
	Retryable bool
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("transport error (%s): %s", kind, e.Reason)
}

// NewRetryableError builds a retryable transport error.
func NewRetryableError(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...), Retryable: true}
}

// NewPermanentError builds a permanent transport error.
func NewPermanentError(format string, args ...any) *Error {
	return &Error{Reason: fmt.Sprintf(format, args...), Retryable: false}
}

// IsRetryable classifies an error from Sender.Send. Context deadline
// and cancellation count as retryable: the send may well have never
// reached the provider.
func IsRetryable(err error) bool {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	// Unclassified errors are treated as retryable so a transient
	// infrastructure hiccup is not promoted to a permanent failure.
	return true
}
