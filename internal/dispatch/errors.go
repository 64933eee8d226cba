package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSubject means the intent has an empty subject.
	ErrNoSubject = errors.New("email subject is required")

	// ErrNoRecipient means the intent has no To address.
	ErrNoRecipient = errors.New("at least one recipient is required")
)

// CompositionError is returned synchronously when an intent cannot be turned
// into a sendable email. No job is enqueued for it.
type CompositionError struct {
	EmailID string
	Err     error
}

func (e *CompositionError) Error() string {
	if e.EmailID == "" {
		return fmt.Sprintf("composing email: %v", e.Err)
	}
	return fmt.Sprintf("composing email %s: %v", e.EmailID, e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}
