package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bissquit/clubmail/internal/domain"
	"github.com/bissquit/clubmail/internal/pkg/ctxlog"
)

// ProcessorConfig contains queue processor configuration.
type ProcessorConfig struct {
	BatchSize           int
	PollInterval        time.Duration
	Concurrency         int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	BackoffMultiplier   float64
	MaintenanceInterval time.Duration
	StuckTimeout        time.Duration
	SentRetention       time.Duration
}

// DefaultProcessorConfig returns default processor configuration.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:           100,
		PollInterval:        5 * time.Second,
		Concurrency:         5,
		InitialBackoff:      1 * time.Minute,
		MaxBackoff:          1 * time.Hour,
		BackoffMultiplier:   2.0,
		MaintenanceInterval: 10 * time.Minute,
		StuckTimeout:        15 * time.Minute,
		SentRetention:       30 * 24 * time.Hour,
	}
}

// ProcessorDeps groups the collaborators of a Processor.
type ProcessorDeps struct {
	Store     QueueStore
	Transport Transport
	Templates *TemplateSource
	Renderer  Renderer
	Events    EventRepository
	Campaigns CampaignRepository
	Quota     *QuotaGuard
	Clock     Clock
}

// Processor drains due queue items through the transport.
type Processor struct {
	config    ProcessorConfig
	store     QueueStore
	transport Transport
	templates *TemplateSource
	renderer  Renderer
	events    EventRepository
	campaigns CampaignRepository
	quota     *QuotaGuard
	clock     Clock

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewProcessor creates a queue processor.
func NewProcessor(config ProcessorConfig, deps ProcessorDeps) *Processor {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Processor{
		config:    config,
		store:     deps.Store,
		transport: deps.Transport,
		templates: deps.Templates,
		renderer:  deps.Renderer,
		events:    deps.Events,
		campaigns: deps.Campaigns,
		quota:     deps.Quota,
		clock:     deps.Clock,
		stopCh:    make(chan struct{}),
	}
}

// outcome is the result of dispatching one item.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetry
	outcomeFailed
	outcomeSkipped
)

// ProcessQueue claims due items and dispatches them once.
// Per-item failures are recorded on the items; only claim failures are returned.
func (p *Processor) ProcessQueue(ctx context.Context) (ProcessStats, error) {
	var stats ProcessStats

	items, throttled, err := p.claim(ctx)
	if err != nil {
		return stats, err
	}
	if throttled {
		slog.Info("hourly send limit reached, skipping pass")
		stats.Throttled = true
		return stats, nil
	}
	if len(items) == 0 {
		return stats, nil
	}

	slog.Debug("processing queue items", "count", len(items))
	recordQueueProcessed(len(items))

	outcomes := p.dispatch(ctx, items)

	stats.Processed = len(items)
	for _, o := range outcomes {
		switch o {
		case outcomeSent:
			stats.Sent++
		case outcomeRetry:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		case outcomeSkipped:
			stats.Skipped++
		}
	}

	slog.Info("queue pass finished",
		"processed", stats.Processed,
		"sent", stats.Sent,
		"retried", stats.Retried,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)

	return stats, nil
}

// claim takes the next batch, bounded by the hourly cap when one is configured.
func (p *Processor) claim(ctx context.Context) ([]*QueueItem, bool, error) {
	now := p.clock.Now()
	if p.quota != nil {
		if budget, ok := p.quota.HourlyCap(); ok {
			items, remaining, err := p.store.ClaimDueCapped(ctx, now, p.config.BatchSize, budget)
			if err != nil {
				return nil, false, fmt.Errorf("claim due items: %w", err)
			}
			return items, remaining <= 0, nil
		}
	}

	items, err := p.store.ClaimDue(ctx, now, p.config.BatchSize)
	if err != nil {
		return nil, false, fmt.Errorf("claim due items: %w", err)
	}
	return items, false, nil
}

// dispatch sends items in claim order. Items sharing a priority are sent concurrently;
// a priority class starts only after every item of the previous class has finished.
func (p *Processor) dispatch(ctx context.Context, items []*QueueItem) []outcome {
	outcomes := make([]outcome, len(items))
	for start := 0; start < len(items); {
		end := start + 1
		for end < len(items) && items[end].Priority == items[start].Priority {
			end++
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.config.Concurrency)
		for i := start; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = p.processItem(gctx, items[i])
				return nil
			})
		}
		_ = g.Wait()

		start = end
	}
	return outcomes
}

// RetryFailed resets failed items to pending and runs one processing pass.
func (p *Processor) RetryFailed(ctx context.Context) (RetryStats, error) {
	var stats RetryStats

	items, err := p.store.ListFailed(ctx, p.config.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("list failed items: %w", err)
	}

	now := p.clock.Now()
	for _, item := range items {
		ok, err := p.store.RetryFailedItem(ctx, item.ID, now)
		if err != nil {
			return stats, fmt.Errorf("reset item %s: %w", item.ID, err)
		}
		if !ok {
			slog.Info("failed item not reset", "item_id", item.ID, "dedup_key", item.DedupKey)
			continue
		}
		stats.Retried++
	}

	if stats.Retried == 0 {
		return stats, nil
	}

	pass, err := p.ProcessQueue(ctx)
	if err != nil {
		return stats, err
	}
	stats.Success = pass.Sent
	stats.Failed = pass.Failed + pass.Skipped

	slog.Info("failed items retried",
		"retried", stats.Retried,
		"success", stats.Success,
		"failed", stats.Failed,
	)

	return stats, nil
}

func (p *Processor) processItem(ctx context.Context, item *QueueItem) outcome {
	start := time.Now()
	ctx, log := ctxlog.With(ctx, "item_id", item.ID)

	reason, err := p.skipReason(ctx, item)
	if err != nil {
		log.Error("failed to check parent", "error", err)
		return p.retry(ctx, item, err)
	}
	if reason != "" {
		log.Info("skipping queue item", "reason", reason)
		p.markFailed(ctx, item, item.RetryCount, "skipped: "+reason)
		recordEmailSent(item.EmailType, "skipped")
		return outcomeSkipped
	}

	msg, err := p.message(ctx, item)
	if err != nil {
		log.Error("failed to render", "error", err)
		p.markFailed(ctx, item, item.RetryCount, err.Error())
		recordEmailSent(item.EmailType, "failed")
		return outcomeFailed
	}

	err = p.transport.Send(ctx, msg)
	duration := time.Since(start)

	if err != nil {
		return p.handleSendError(ctx, item, err)
	}

	if err := p.store.MarkAsSent(ctx, item.ID, p.clock.Now()); err != nil {
		log.Error("failed to mark as sent", "error", err)
	}
	if item.CampaignID != nil && p.campaigns != nil {
		if err := p.campaigns.IncrementSentCount(ctx, *item.CampaignID); err != nil {
			log.Error("failed to update campaign progress", "campaign_id", *item.CampaignID, "error", err)
		}
	}

	recordEmailSent(item.EmailType, "success")
	recordSendDuration(item.EmailType, duration)

	log.Debug("email sent",
		"email_type", item.EmailType,
		"duration", duration,
	)
	return outcomeSent
}

// skipReason reports why an item should no longer be delivered.
func (p *Processor) skipReason(ctx context.Context, item *QueueItem) (string, error) {
	if item.EventID != nil && p.events != nil {
		event, err := p.events.GetEvent(ctx, *item.EventID)
		switch {
		case errors.Is(err, ErrEventNotFound):
			return "event deleted", nil
		case err != nil:
			return "", err
		case !event.IsActive:
			return "event inactive", nil
		}
	}

	if item.CampaignID != nil && p.campaigns != nil {
		campaign, err := p.campaigns.GetCampaign(ctx, *item.CampaignID)
		switch {
		case errors.Is(err, ErrCampaignNotFound):
			return "campaign deleted", nil
		case err != nil:
			return "", err
		case campaign.Status == domain.CampaignStatusCancelled:
			return "campaign cancelled", nil
		}
	}

	return "", nil
}

// message builds the outgoing message, rendering from the template when the item has no content.
func (p *Processor) message(ctx context.Context, item *QueueItem) (Message, error) {
	msg := Message{
		To:      item.RecipientEmail,
		ToName:  item.RecipientName,
		Subject: item.Subject,
		HTML:    item.HTMLBody,
		Text:    item.TextBody,
	}
	if item.IsRendered() || item.TemplateID == nil {
		return msg, nil
	}

	tmpl, err := p.templates.ByID(ctx, *item.TemplateID)
	if err != nil {
		return msg, err
	}
	content, err := p.renderer.Render(tmpl, item.Context)
	if err != nil {
		return msg, fmt.Errorf("render template %s: %w", tmpl.Name, err)
	}

	msg.Subject = content.Subject
	msg.HTML = content.HTML
	msg.Text = content.Text
	return msg, nil
}

func (p *Processor) handleSendError(ctx context.Context, item *QueueItem, err error) outcome {
	ctxlog.FromContext(ctx).Warn("send failed",
		"attempt", item.RetryCount+1,
		"max_retries", item.MaxRetries,
		"error", err,
	)

	if !isRetryable(err) {
		p.markFailed(ctx, item, item.RetryCount, err.Error())
		recordEmailSent(item.EmailType, "failed")
		return outcomeFailed
	}

	return p.retry(ctx, item, err)
}

// retry schedules the next attempt, or fails the item once its retries are used up.
func (p *Processor) retry(ctx context.Context, item *QueueItem, err error) outcome {
	attempt := item.RetryCount + 1
	if attempt >= item.MaxRetries {
		p.markFailed(ctx, item, attempt, fmt.Sprintf("max retries exceeded: %v", err))
		recordEmailSent(item.EmailType, "failed")
		return outcomeFailed
	}

	nextAttempt := p.calculateNextAttempt(attempt)
	if markErr := p.store.MarkForRetry(ctx, item.ID, attempt, err.Error(), nextAttempt); markErr != nil {
		ctxlog.FromContext(ctx).Error("failed to mark for retry", "error", markErr)
	}
	recordEmailSent(item.EmailType, "retry")

	ctxlog.FromContext(ctx).Info("email scheduled for retry",
		"retry_count", attempt,
		"next_attempt", nextAttempt,
	)
	return outcomeRetry
}

func (p *Processor) markFailed(ctx context.Context, item *QueueItem, retryCount int, reason string) {
	if markErr := p.store.MarkAsFailed(ctx, item.ID, retryCount, reason); markErr != nil {
		ctxlog.FromContext(ctx).Error("failed to mark as failed", "error", markErr)
	}
}

func (p *Processor) calculateNextAttempt(attempt int) time.Time {
	backoff := float64(p.config.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.config.BackoffMultiplier
	}

	if backoff > float64(p.config.MaxBackoff) {
		backoff = float64(p.config.MaxBackoff)
	}

	return p.clock.Now().Add(time.Duration(backoff))
}
