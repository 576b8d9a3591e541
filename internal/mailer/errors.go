package mailer

import (
	"errors"
	"fmt"
)

// Lookup errors.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrTemplateNotFound = errors.New("email template not found")
	ErrItemNotFound     = errors.New("queue item not found")
)

// Scheduling errors. All of them abort the call before anything is enqueued.
var (
	ErrNoRecipients    = errors.New("no recipients")
	ErrInvalidSchedule = errors.New("scheduled campaign has no send time")
	ErrTooLate         = errors.New("event is too close or already started, no reminders apply")
	ErrEventInactive   = errors.New("event is not active")
	ErrQuotaExceeded   = errors.New("send quota exceeded")
	ErrCampaignClosed  = errors.New("campaign is already sent or cancelled")
	ErrInvalidEmail    = errors.New("invalid email request")
)

// ReasonDuplicate is reported by the enqueuer when a live item already holds the dedup key.
const ReasonDuplicate = "duplicate"

// QuotaError describes a rejected scheduling request.
type QuotaError struct {
	Requested int
	Used      int
	Limit     int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("send quota exceeded: %d requested, %d used of %d", e.Requested, e.Used, e.Limit)
}

// Unwrap makes errors.Is(err, ErrQuotaExceeded) work.
func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// RetryableError wraps an error and marks it as retryable or not.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

// IsRetryable returns whether the error is retryable.
func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a retryable error.
func NewRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: true}
}

// NewNonRetryableError creates a non-retryable error.
func NewNonRetryableError(err error) *RetryableError {
	return &RetryableError{Err: err, Retryable: false}
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	// Default: retry unknown errors
	return true
}
