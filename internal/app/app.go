// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	campaignspostgres "github.com/bissquit/clubmail/internal/campaigns/postgres"
	"github.com/bissquit/clubmail/internal/config"
	eventspostgres "github.com/bissquit/clubmail/internal/events/postgres"
	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/bissquit/clubmail/internal/mailer/email"
	mailerpostgres "github.com/bissquit/clubmail/internal/mailer/postgres"
	"github.com/bissquit/clubmail/internal/pkg/ctxlog"
	"github.com/bissquit/clubmail/internal/pkg/httputil"
	"github.com/bissquit/clubmail/internal/pkg/metrics"
	"github.com/bissquit/clubmail/internal/pkg/postgres"
	"github.com/bissquit/clubmail/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	queue     *mailerpostgres.Repository
	events    *eventspostgres.Repository
	campaigns *campaignspostgres.Repository
	scheduler *mailer.Scheduler
	processor *mailer.Processor

	runCancel context.CancelFunc
	sweepDone chan struct{}
	started   bool
}

// New connects to the database and assembles the mail engine and the ops servers.
// Background work starts only in Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
		ApplicationName: "clubmail",
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	if err := app.setupMailer(); err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup mailer: %w", err)
	}

	metrics.SetBuildInfo(version.Version, version.GitCommit)
	go metrics.CollectDBPool(metricsCtx, db, 15*time.Second)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupMailer() error {
	mc := a.config.Mailer

	clock, err := mailer.NewSystemClock(mc.Timezone)
	if err != nil {
		return err
	}

	a.queue = mailerpostgres.NewRepository(a.db)
	a.events = eventspostgres.NewRepository(a.db)
	a.campaigns = campaignspostgres.NewRepository(a.db)

	templates, err := mailer.NewTemplateSource(a.campaigns)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	renderer := mailer.NewTemplateRenderer()
	quota := mailer.NewQuotaGuard(mailer.QuotaConfig{
		DailyLimit:  mc.Quota.DailyLimit,
		HourlyLimit: mc.Quota.HourlyLimit,
	}, a.queue, clock)

	a.scheduler = mailer.NewScheduler(mailer.SchedulerDeps{
		Enqueuer:   mailer.NewEnqueuer(a.queue, clock, mc.Retry.MaxRetries),
		Events:     a.events,
		Campaigns:  a.campaigns,
		Recipients: newRecipientResolver(a.events, a.campaigns),
		Templates:  templates,
		Renderer:   renderer,
		Quota:      quota,
		Clock:      clock,
	})

	sender, err := email.NewSender(email.Config{
		Enabled:      mc.Email.Enabled,
		SMTPHost:     mc.Email.SMTPHost,
		SMTPPort:     mc.Email.SMTPPort,
		SMTPUser:     mc.Email.SMTPUser,
		SMTPPassword: mc.Email.SMTPPassword,
		FromAddress:  mc.Email.FromAddress,
		RateLimit:    mc.Email.RateLimit,
		DialTimeout:  mc.Email.DialTimeout,
	})
	if err != nil {
		return fmt.Errorf("create email sender: %w", err)
	}
	if !mc.Email.Enabled {
		slog.Warn("email sender is disabled: queued emails will be marked sent without delivery")
	}

	a.processor = mailer.NewProcessor(mailer.ProcessorConfig{
		BatchSize:           mc.Worker.BatchSize,
		PollInterval:        mc.Worker.PollInterval,
		Concurrency:         mc.Worker.Concurrency,
		InitialBackoff:      mc.Retry.InitialBackoff,
		MaxBackoff:          mc.Retry.MaxBackoff,
		BackoffMultiplier:   mc.Retry.BackoffMultiplier,
		MaintenanceInterval: mc.Worker.MaintenanceInterval,
		StuckTimeout:        mc.Worker.StuckTimeout,
		SentRetention:       mc.Worker.SentRetention,
	}, mailer.ProcessorDeps{
		Store:     a.queue,
		Transport: sender,
		Templates: templates,
		Renderer:  renderer,
		Events:    a.events,
		Campaigns: a.campaigns,
		Quota:     quota,
		Clock:     clock,
	})

	return nil
}

// Run starts the queue processor, the reminder sweep and the HTTP servers. It blocks until
// the main server stops.
func (a *App) Run() error {
	runCtx, runCancel := context.WithCancel(context.Background())
	a.runCancel = runCancel

	if a.config.Mailer.Worker.Enabled {
		a.processor.Start(runCtx)
		a.started = true

		if interval := a.config.Mailer.Worker.ReminderSweepInterval; interval > 0 {
			a.sweepDone = make(chan struct{})
			go a.sweepReminders(runCtx, interval)
		}
	} else {
		slog.Warn("queue worker is disabled: run 'clubmail queue process' to drain the queue")
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (a *App) sweepReminders(ctx context.Context, interval time.Duration) {
	defer close(a.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := a.scheduler.ScheduleUpcomingReminders(ctx, a.events, a.config.Mailer.Worker.ReminderHorizon)
			if err != nil {
				slog.Error("reminder sweep failed", "error", err)
				continue
			}
			if result.Enqueued > 0 {
				slog.Info("reminder sweep finished", "enqueued", result.Enqueued, "duplicates", result.Duplicates)
			}
		}
	}
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	// Stop background work before the servers so no pass is cut off mid-flight.
	if a.runCancel != nil {
		if a.started {
			a.processor.Stop()
		}
		a.runCancel()
		if a.sweepDone != nil {
			<-a.sweepDone
		}
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

// Close releases the database pool without touching the servers. Used by one-shot CLI commands.
func (a *App) Close() {
	a.metricsCancel()
	a.db.Close()
}

// Router returns the ops HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the scheduling API.
func (a *App) Scheduler() *mailer.Scheduler {
	return a.scheduler
}

// Processor returns the queue processor.
func (a *App) Processor() *mailer.Processor {
	return a.processor
}

// Queue returns the queue store.
func (a *App) Queue() *mailerpostgres.Repository {
	return a.queue
}

// Events returns the events repository.
func (a *App) Events() *eventspostgres.Repository {
	return a.events
}

// Campaigns returns the campaigns repository.
func (a *App) Campaigns() *campaignspostgres.Repository {
	return a.campaigns
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httputil.Instrument(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)
	r.Get("/queue/stats", a.queueStatsHandler)

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Get())
}

func (a *App) queueStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := a.queue.GetQueueStats(r.Context())
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("failed to get queue stats", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	mailer.RecordQueueStats(stats)
	httputil.JSON(w, http.StatusOK, stats)
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
