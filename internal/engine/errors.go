package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"menlo/internal/models"
)

var (
	// ErrUnavailable marks a read that could not reach the store. The
	// accompanying result is empty, not authoritative.
	ErrUnavailable = errors.New("booking data unavailable")

	// ErrHorizonExceeded is returned when no free weekday exists within the
	// configured scan horizon.
	ErrHorizonExceeded = errors.New("no available day within horizon")
)

// ValidationError reports a malformed booking request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func validationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// ConflictError reports that the requested range overlaps an active booking.
type ConflictError struct {
	Requested models.DateRange
	Existing  models.Booking
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("requested %s overlaps booking %s (%s)",
		e.Requested, e.Existing.Range(), e.Existing.Name)
}

// StoreError wraps a failed read, write or lock against the remote store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline rather than a refusal.
func (e *StoreError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// NotificationError is attached to a successful booking whose confirmation
// could not be delivered.
type NotificationError struct {
	Recipient string
	Err       error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notify %s: %v", e.Recipient, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }
