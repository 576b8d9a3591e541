package mailer

import (
	"context"
	"fmt"
	"time"
)

// QuotaConfig holds send budgets. Zero disables a limit.
type QuotaConfig struct {
	DailyLimit  int
	HourlyLimit int
}

const (
	dailyWindow  = 24 * time.Hour
	hourlyWindow = time.Hour
)

// QuotaGuard enforces rolling send budgets against the queue table.
type QuotaGuard struct {
	config QuotaConfig
	store  QueueStore
	clock  Clock
}

// NewQuotaGuard creates a quota guard.
func NewQuotaGuard(config QuotaConfig, store QueueStore, clock Clock) *QuotaGuard {
	return &QuotaGuard{config: config, store: store, clock: clock}
}

// Allow returns a *QuotaError when enqueuing n more items would exceed the rolling
// 24-hour budget.
func (q *QuotaGuard) Allow(ctx context.Context, n int) error {
	if q.config.DailyLimit <= 0 || n <= 0 {
		return nil
	}

	used, err := q.store.CountEnqueuedSince(ctx, q.clock.Now().Add(-dailyWindow))
	if err != nil {
		return fmt.Errorf("count enqueued items: %w", err)
	}

	if used+n > q.config.DailyLimit {
		recordQuotaRejected()
		return &QuotaError{Requested: n, Used: used, Limit: q.config.DailyLimit}
	}
	return nil
}

// HourlyCap returns the trailing-hour dispatch budget. ok is false when no hourly cap
// is configured.
func (q *QuotaGuard) HourlyCap() (budget DispatchCap, ok bool) {
	if q.config.HourlyLimit <= 0 {
		return DispatchCap{}, false
	}
	return DispatchCap{Since: q.clock.Now().Add(-hourlyWindow), Limit: q.config.HourlyLimit}, true
}
