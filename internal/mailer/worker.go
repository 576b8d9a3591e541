package mailer

import (
	"context"
	"log/slog"
	"time"
)

// Start runs the processing loop and the maintenance loop until ctx is cancelled or Stop is called.
func (p *Processor) Start(ctx context.Context) {
	slog.Info("starting queue processor",
		"concurrency", p.config.Concurrency,
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval,
	)

	p.wg.Add(1)
	go p.loop(ctx, p.config.PollInterval, func(ctx context.Context) {
		if _, err := p.ProcessQueue(ctx); err != nil {
			slog.Error("queue pass failed", "error", err)
		}
	})

	if p.config.MaintenanceInterval > 0 {
		p.wg.Add(1)
		go p.loop(ctx, p.config.MaintenanceInterval, p.RunMaintenance)
	}
}

// Stop gracefully stops the loops and waits for the current pass to finish.
func (p *Processor) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	slog.Info("queue processor stopped")
}

func (p *Processor) loop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RunMaintenance returns stuck items to pending, purges old sent items and refreshes queue gauges.
func (p *Processor) RunMaintenance(ctx context.Context) {
	now := p.clock.Now()

	if p.config.StuckTimeout > 0 {
		recovered, err := p.store.RecoverStuckProcessing(ctx, now.Add(-p.config.StuckTimeout))
		if err != nil {
			slog.Error("failed to recover stuck items", "error", err)
		} else if recovered > 0 {
			slog.Warn("recovered stuck queue items", "count", recovered)
		}
	}

	if p.config.SentRetention > 0 {
		deleted, err := p.store.DeleteOldSentItems(ctx, now.Add(-p.config.SentRetention))
		if err != nil {
			slog.Error("failed to delete old sent items", "error", err)
		} else if deleted > 0 {
			slog.Info("deleted old sent items", "count", deleted)
		}
	}

	stats, err := p.store.GetQueueStats(ctx)
	if err != nil {
		slog.Error("failed to collect queue stats", "error", err)
		return
	}
	RecordQueueStats(stats)
}
