package cli

import (
	"context"
	"time"

	"github.com/bissquit/clubmail/internal/app"
	"github.com/bissquit/clubmail/internal/config"
	"github.com/bissquit/clubmail/internal/mailer"
)

// Engine is the slice of the application the one-shot commands drive.
type Engine interface {
	ScheduleEventReminders(ctx context.Context, eventID string) (*mailer.ScheduleResult, error)
	ScheduleUpcomingReminders(ctx context.Context) (*mailer.ScheduleResult, error)
	ScheduleCampaign(ctx context.Context, req mailer.CampaignRequest) (*mailer.ScheduleResult, error)
	ScheduleImmediateEmail(ctx context.Context, req mailer.ImmediateEmail) (*mailer.ScheduleResult, error)
	ProcessQueue(ctx context.Context) (mailer.ProcessStats, error)
	RetryFailed(ctx context.Context) (mailer.RetryStats, error)
	QueueStats(ctx context.Context) (*mailer.QueueStats, error)
	Close()
}

// EngineFactory builds an Engine from loaded configuration.
type EngineFactory func(cfg *config.Config) (Engine, error)

// appEngine adapts *app.App to Engine.
type appEngine struct {
	app     *app.App
	horizon time.Duration
}

func newAppEngine(cfg *config.Config) (Engine, error) {
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	return &appEngine{app: a, horizon: cfg.Mailer.Worker.ReminderHorizon}, nil
}

func (e *appEngine) ScheduleEventReminders(ctx context.Context, eventID string) (*mailer.ScheduleResult, error) {
	return e.app.Scheduler().ScheduleEventReminders(ctx, eventID)
}

func (e *appEngine) ScheduleUpcomingReminders(ctx context.Context) (*mailer.ScheduleResult, error) {
	return e.app.Scheduler().ScheduleUpcomingReminders(ctx, e.app.Events(), e.horizon)
}

func (e *appEngine) ScheduleCampaign(ctx context.Context, req mailer.CampaignRequest) (*mailer.ScheduleResult, error) {
	return e.app.Scheduler().ScheduleCampaign(ctx, req)
}

func (e *appEngine) ScheduleImmediateEmail(ctx context.Context, req mailer.ImmediateEmail) (*mailer.ScheduleResult, error) {
	return e.app.Scheduler().ScheduleImmediateEmail(ctx, req)
}

func (e *appEngine) ProcessQueue(ctx context.Context) (mailer.ProcessStats, error) {
	return e.app.Processor().ProcessQueue(ctx)
}

func (e *appEngine) RetryFailed(ctx context.Context) (mailer.RetryStats, error) {
	return e.app.Processor().RetryFailed(ctx)
}

func (e *appEngine) QueueStats(ctx context.Context) (*mailer.QueueStats, error) {
	return e.app.Queue().GetQueueStats(ctx)
}

func (e *appEngine) Close() {
	e.app.Close()
}
