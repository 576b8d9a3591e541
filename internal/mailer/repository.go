// Package mailer schedules, deduplicates and dispatches club emails through a durable queue.
package mailer

import (
	"context"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
)

// QueueStore is the durable queue. Every method is a single atomic statement or transaction.
type QueueStore interface {
	// Enqueue inserts a pending item unless a pending or processing item holds the same
	// non-empty dedup key. Returns false when the insert was suppressed.
	Enqueue(ctx context.Context, item *QueueItem) (bool, error)

	// ClaimDue moves up to limit pending items with scheduled_at <= now to processing,
	// ordered by priority then scheduled_at, and returns them in that order.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*QueueItem, error)

	// ClaimDueCapped claims like ClaimDue but counts the items dispatched since budget.Since
	// and shrinks limit to what budget.Limit still allows, in one serialised step. It
	// returns the budget left before the claim.
	ClaimDueCapped(ctx context.Context, now time.Time, limit int, budget DispatchCap) ([]*QueueItem, int, error)

	MarkAsSent(ctx context.Context, id string, sentAt time.Time) error
	MarkForRetry(ctx context.Context, id string, retryCount int, errMsg string, nextAttempt time.Time) error
	MarkAsFailed(ctx context.Context, id string, retryCount int, errMsg string) error

	// ListFailed returns failed items, oldest first.
	ListFailed(ctx context.Context, limit int) ([]*QueueItem, error)

	// RetryFailedItem resets a failed item to pending with retry_count 0.
	// Returns false when the item is not failed or its dedup key is held by a live item.
	RetryFailedItem(ctx context.Context, id string, now time.Time) (bool, error)

	// CountDispatchedSince counts items sent, or claimed and still processing, at or after since.
	CountDispatchedSince(ctx context.Context, since time.Time) (int, error)

	// CountEnqueuedSince counts non-system items created at or after since.
	CountEnqueuedSince(ctx context.Context, since time.Time) (int, error)

	RecoverStuckProcessing(ctx context.Context, claimedBefore time.Time) (int64, error)
	DeleteOldSentItems(ctx context.Context, sentBefore time.Time) (int64, error)
	GetQueueStats(ctx context.Context) (*QueueStats, error)
}

// DispatchCap bounds how many items may be dispatched since a point in time.
type DispatchCap struct {
	Since time.Time
	Limit int
}

// EventRepository reads club events.
type EventRepository interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	MarkRemindersScheduled(ctx context.Context, id string) error
}

// CampaignRepository reads campaigns and writes back delivery progress.
type CampaignRepository interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	MarkCampaignScheduled(ctx context.Context, id string, status domain.CampaignStatus, totalRecipients int) error
	IncrementSentCount(ctx context.Context, id string) error
}

// TemplateRepository reads stored email templates.
type TemplateRepository interface {
	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	GetTemplateByName(ctx context.Context, name string) (*domain.EmailTemplate, error)
}

// RecipientResolver produces deduplicated recipient lists.
type RecipientResolver interface {
	ResolveEventParticipants(ctx context.Context, eventID string) ([]domain.Recipient, error)
	ResolveGroupRecipients(ctx context.Context, groupIDs []string) ([]domain.Recipient, error)
	ResolveCampaignRecipients(ctx context.Context, campaign *domain.Campaign) ([]domain.Recipient, error)
}

// Content is a rendered email.
type Content struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders a template with a variable context.
type Renderer interface {
	Render(tmpl *domain.EmailTemplate, vars map[string]string) (Content, error)
}

// Message is a single email handed to the transport.
type Message struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// Transport delivers one message. Errors wrapped in RetryableError control retry behaviour;
// unclassified errors are treated as transient.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}
