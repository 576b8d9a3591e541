package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Enqueuer inserts queue items unless an equivalent live item exists.
type Enqueuer struct {
	store      QueueStore
	clock      Clock
	maxRetries int
}

// NewEnqueuer creates an enqueuer. maxRetries <= 0 selects DefaultMaxRetries.
func NewEnqueuer(store QueueStore, clock Clock, maxRetries int) *Enqueuer {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Enqueuer{store: store, clock: clock, maxRetries: maxRetries}
}

// Enqueue stores item as pending under dedupKey. An empty dedupKey disables deduplication.
// When a pending or processing item already holds the key, nothing is written and
// reason is ReasonDuplicate.
func (e *Enqueuer) Enqueue(ctx context.Context, item *QueueItem, dedupKey string) (inserted bool, reason string, err error) {
	now := e.clock.Now()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = e.maxRetries
	}
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = now
	}
	if item.Context == nil {
		item.Context = map[string]string{}
	}
	item.DedupKey = dedupKey
	item.Status = QueueStatusPending
	item.RetryCount = 0
	item.SentAt = nil
	item.ClaimedAt = nil
	item.ErrorMessage = ""
	item.CreatedAt = now
	item.UpdatedAt = now

	inserted, err = e.store.Enqueue(ctx, item)
	if err != nil {
		return false, "", fmt.Errorf("enqueue %s: %w", item.RecipientEmail, err)
	}

	if !inserted {
		slog.Debug("duplicate queue item suppressed", "dedup_key", dedupKey)
		recordEnqueued(item.EmailType, "duplicate")
		return false, ReasonDuplicate, nil
	}

	recordEnqueued(item.EmailType, "inserted")
	return true, "", nil
}

// EventDedupKey identifies one reminder for one participant of one event.
func EventDedupKey(eventID, participantKey string, offset ReminderOffset) string {
	return fmt.Sprintf("event:%s:%s:%s", eventID, participantKey, offset)
}

// CampaignDedupKey identifies one campaign send to one address.
func CampaignDedupKey(campaignID, email string) string {
	return fmt.Sprintf("campaign:%s:%s", campaignID, email)
}

// SystemDedupKey identifies a transactional send. An empty hint disables deduplication.
func SystemDedupKey(templateName, to, hint string) string {
	if hint == "" {
		return ""
	}
	return fmt.Sprintf("system:%s:%s:%s", templateName, to, hint)
}
