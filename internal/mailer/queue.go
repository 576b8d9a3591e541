package mailer

import (
	"fmt"
	"time"
)

// QueueStatus represents the status of a queue item.
type QueueStatus string

// Queue statuses.
const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// IsLive reports whether an item with this status holds its dedup key.
func (s QueueStatus) IsLive() bool {
	return s == QueueStatusPending || s == QueueStatusProcessing
}

// Priority orders due items. Lower values are dispatched first.
type Priority int

// Priorities.
const (
	PrioritySystem   Priority = 0
	PriorityEvent    Priority = 1
	PriorityCampaign Priority = 2
)

// EmailType tells what produced a queue item.
type EmailType string

// Email types.
const (
	EmailTypeEventReminder     EmailType = "event_reminder"
	EmailTypeCampaign          EmailType = "campaign"
	EmailTypePasswordReset     EmailType = "password_reset"
	EmailTypeAdminNotification EmailType = "admin_notification"
	EmailTypeTestSend          EmailType = "test_send"
	EmailTypeSystem            EmailType = "system"
)

// IsTransactional reports whether the type is sent through ScheduleImmediateEmail.
func (t EmailType) IsTransactional() bool {
	switch t {
	case EmailTypePasswordReset, EmailTypeAdminNotification, EmailTypeTestSend, EmailTypeSystem:
		return true
	default:
		return false
	}
}

// ParseEmailType converts a string into a transactional EmailType.
func ParseEmailType(s string) (EmailType, error) {
	t := EmailType(s)
	if s == "" {
		return EmailTypeSystem, nil
	}
	if !t.IsTransactional() {
		return "", fmt.Errorf("unknown transactional email type %q", s)
	}
	return t, nil
}

// DefaultMaxRetries is used when an item is enqueued without an explicit limit.
const DefaultMaxRetries = 3

// QueueItem represents one planned send.
type QueueItem struct {
	ID             string
	RecipientEmail string
	RecipientName  string
	Subject        string
	HTMLBody       string
	TextBody       string
	Status         QueueStatus
	EmailType      EmailType
	Priority       Priority
	ScheduledAt    time.Time
	SentAt         *time.Time
	ClaimedAt      *time.Time
	TemplateID     *string
	CampaignID     *string
	EventID        *string
	Context        map[string]string
	RetryCount     int
	MaxRetries     int
	DedupKey       string
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsRendered reports whether the item already carries its content.
func (i *QueueItem) IsRendered() bool {
	return i.Subject != "" && (i.HTMLBody != "" || i.TextBody != "")
}

// QueueStats holds queue sizes by status.
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
}

// ProcessStats summarises one ProcessQueue pass.
type ProcessStats struct {
	Processed int  `json:"processed"`
	Sent      int  `json:"sent"`
	Failed    int  `json:"failed"`
	Retried   int  `json:"retried"`
	Skipped   int  `json:"skipped"`
	Throttled bool `json:"throttled"`
}

// RetryStats summarises one RetryFailed call.
type RetryStats struct {
	Retried int `json:"retried"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// ScheduleResult is returned by scheduling operations.
type ScheduleResult struct {
	Enqueued   int    `json:"enqueued"`
	Duplicates int    `json:"duplicates"`
	Message    string `json:"message"`
}
