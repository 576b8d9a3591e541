// Package postgres provides the PostgreSQL queue store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const itemColumns = `
	id, recipient_email, recipient_name, subject, html_body, text_body, status, email_type,
	priority, scheduled_at, sent_at, claimed_at, template_id, campaign_id, event_id, context,
	retry_count, max_retries, COALESCE(dedup_key, ''), error_message, created_at, updated_at
`

// Repository implements mailer.QueueStore using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL queue store.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Enqueue inserts a pending item. The partial unique index on dedup_key rejects the insert
// when a pending or processing item holds the same key.
func (r *Repository) Enqueue(ctx context.Context, item *mailer.QueueItem) (bool, error) {
	query := `
		INSERT INTO email_queue (
			id, recipient_email, recipient_name, subject, html_body, text_body, status, email_type,
			priority, scheduled_at, template_id, campaign_id, event_id, context,
			retry_count, max_retries, dedup_key, error_message, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (dedup_key) WHERE status IN ('pending', 'processing') AND dedup_key IS NOT NULL
		DO NOTHING
	`
	result, err := r.db.Exec(ctx, query,
		item.ID,
		item.RecipientEmail,
		item.RecipientName,
		item.Subject,
		item.HTMLBody,
		item.TextBody,
		item.Status,
		item.EmailType,
		item.Priority,
		item.ScheduledAt,
		item.TemplateID,
		item.CampaignID,
		item.EventID,
		item.Context,
		item.RetryCount,
		item.MaxRetries,
		nullIfEmpty(item.DedupKey),
		item.ErrorMessage,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert queue item: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// dispatchLockKey serialises capped claims across processes.
const dispatchLockKey int64 = 0x636c75626d61696c

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ClaimDue atomically moves due pending items to processing.
// Rows locked by a concurrent claim are skipped.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*mailer.QueueItem, error) {
	return claimDue(ctx, r.db, now, limit)
}

// ClaimDueCapped counts the dispatched items and claims within the remaining budget while
// holding a transaction-scoped advisory lock, so concurrent passes cannot both spend it.
func (r *Repository) ClaimDueCapped(ctx context.Context, now time.Time, limit int, budget mailer.DispatchCap) ([]*mailer.QueueItem, int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, dispatchLockKey); err != nil {
		return nil, 0, fmt.Errorf("lock dispatch budget: %w", err)
	}

	used, err := countDispatched(ctx, tx, budget.Since)
	if err != nil {
		return nil, 0, err
	}
	remaining := max(budget.Limit-used, 0)
	if remaining == 0 {
		return nil, 0, nil
	}

	items, err := claimDue(ctx, tx, now, min(limit, remaining))
	if err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, fmt.Errorf("commit claim: %w", err)
	}
	return items, remaining, nil
}

func claimDue(ctx context.Context, q querier, now time.Time, limit int) ([]*mailer.QueueItem, error) {
	query := `
		UPDATE email_queue q
		SET status = 'processing', claimed_at = $1, updated_at = $1
		FROM (
			SELECT id FROM email_queue
			WHERE status = 'pending' AND scheduled_at <= $1
			ORDER BY priority, scheduled_at, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) due
		WHERE q.id = due.id
		RETURNING ` + qualified("q") + `
	`
	rows, err := q.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due items: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is unspecified.
	slices.SortStableFunc(items, func(a, b *mailer.QueueItem) int {
		if a.Priority != b.Priority {
			return int(a.Priority) - int(b.Priority)
		}
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

// MarkAsSent marks a processing item as delivered.
func (r *Repository) MarkAsSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `
		UPDATE email_queue
		SET status = 'sent', sent_at = $2, error_message = '', updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`
	return r.execTransition(ctx, "mark as sent", query, id, sentAt)
}

// MarkForRetry returns a processing item to pending with a new due time.
func (r *Repository) MarkForRetry(ctx context.Context, id string, retryCount int, errMsg string, nextAttempt time.Time) error {
	query := `
		UPDATE email_queue
		SET status = 'pending', retry_count = $2, error_message = $3, scheduled_at = $4,
			claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return r.execTransition(ctx, "mark for retry", query, id, retryCount, errMsg, nextAttempt)
}

// MarkAsFailed marks a processing item as permanently failed.
func (r *Repository) MarkAsFailed(ctx context.Context, id string, retryCount int, errMsg string) error {
	query := `
		UPDATE email_queue
		SET status = 'failed', retry_count = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return r.execTransition(ctx, "mark as failed", query, id, retryCount, errMsg)
}

func (r *Repository) execTransition(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, mailer.ErrItemNotFound)
	}
	return nil
}

// ListFailed returns failed items, oldest failure first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]*mailer.QueueItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM email_queue
		WHERE status = 'failed'
		ORDER BY updated_at
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed items: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// RetryFailedItem resets a failed item to pending with a fresh retry budget.
func (r *Repository) RetryFailedItem(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE email_queue q
		SET status = 'pending', retry_count = 0, scheduled_at = $2, error_message = '',
			claimed_at = NULL, updated_at = $2
		WHERE q.id = $1 AND q.status = 'failed'
		AND NOT EXISTS (
			SELECT 1 FROM email_queue live
			WHERE live.dedup_key = q.dedup_key
			AND live.id <> q.id
			AND live.status IN ('pending', 'processing')
		)
	`
	result, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("retry failed item: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CountDispatchedSince counts items sent, or claimed and still in flight, at or after since.
func (r *Repository) CountDispatchedSince(ctx context.Context, since time.Time) (int, error) {
	return countDispatched(ctx, r.db, since)
}

func countDispatched(ctx context.Context, q querier, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM email_queue
		WHERE (status = 'sent' AND sent_at >= $1)
		OR (status = 'processing' AND claimed_at >= $1)
	`
	var n int
	if err := q.QueryRow(ctx, query, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dispatched items: %w", err)
	}
	return n, nil
}

// CountEnqueuedSince counts non-system items created at or after since.
func (r *Repository) CountEnqueuedSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM email_queue
		WHERE created_at >= $1 AND priority <> $2
	`
	var n int
	if err := r.db.QueryRow(ctx, query, since, mailer.PrioritySystem).Scan(&n); err != nil {
		return 0, fmt.Errorf("count enqueued items: %w", err)
	}
	return n, nil
}

// RecoverStuckProcessing returns items claimed before the cutoff to pending.
func (r *Repository) RecoverStuckProcessing(ctx context.Context, claimedBefore time.Time) (int64, error) {
	query := `
		UPDATE email_queue
		SET status = 'pending', claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < $1
	`
	result, err := r.db.Exec(ctx, query, claimedBefore)
	if err != nil {
		return 0, fmt.Errorf("recover stuck items: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteOldSentItems removes sent items delivered before the cutoff.
func (r *Repository) DeleteOldSentItems(ctx context.Context, sentBefore time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM email_queue WHERE status = 'sent' AND sent_at < $1`, sentBefore)
	if err != nil {
		return 0, fmt.Errorf("delete old sent items: %w", err)
	}
	return result.RowsAffected(), nil
}

// GetQueueStats returns item counts by status.
func (r *Repository) GetQueueStats(ctx context.Context) (*mailer.QueueStats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &mailer.QueueStats{}
	for rows.Next() {
		var status mailer.QueueStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue stats: %w", err)
		}
		switch status {
		case mailer.QueueStatusPending:
			stats.Pending = count
		case mailer.QueueStatusProcessing:
			stats.Processing = count
		case mailer.QueueStatusSent:
			stats.Sent = count
		case mailer.QueueStatusFailed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue stats: %w", err)
	}
	return stats, nil
}

// GetItem returns a single queue item.
func (r *Repository) GetItem(ctx context.Context, id string) (*mailer.QueueItem, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM email_queue WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, mailer.ErrItemNotFound
	}
	return items[0], nil
}

func scanItems(rows pgx.Rows) ([]*mailer.QueueItem, error) {
	items := make([]*mailer.QueueItem, 0)
	for rows.Next() {
		var item mailer.QueueItem
		err := rows.Scan(
			&item.ID,
			&item.RecipientEmail,
			&item.RecipientName,
			&item.Subject,
			&item.HTMLBody,
			&item.TextBody,
			&item.Status,
			&item.EmailType,
			&item.Priority,
			&item.ScheduledAt,
			&item.SentAt,
			&item.ClaimedAt,
			&item.TemplateID,
			&item.CampaignID,
			&item.EventID,
			&item.Context,
			&item.RetryCount,
			&item.MaxRetries,
			&item.DedupKey,
			&item.ErrorMessage,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue items: %w", err)
	}
	return items, nil
}

// qualified prefixes the item columns with a table alias.
func qualified(alias string) string {
	return fmt.Sprintf(`
		%[1]s.id, %[1]s.recipient_email, %[1]s.recipient_name, %[1]s.subject, %[1]s.html_body,
		%[1]s.text_body, %[1]s.status, %[1]s.email_type, %[1]s.priority, %[1]s.scheduled_at,
		%[1]s.sent_at, %[1]s.claimed_at, %[1]s.template_id, %[1]s.campaign_id, %[1]s.event_id,
		%[1]s.context, %[1]s.retry_count, %[1]s.max_retries, COALESCE(%[1]s.dedup_key, ''),
		%[1]s.error_message, %[1]s.created_at, %[1]s.updated_at
	`, alias)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
