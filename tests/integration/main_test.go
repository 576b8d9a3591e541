//go:build integration

package integration

import (
	"context"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bissquit/clubmail/internal/app"
	"github.com/bissquit/clubmail/internal/config"
	"github.com/bissquit/clubmail/internal/pkg/postgres"
	"github.com/bissquit/clubmail/internal/testutil"
	"github.com/bissquit/clubmail/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	testApp    *app.App
	testServer *httptest.Server
	testDB     *pgxpool.Pool

	mailpitContainer *testutil.MailpitContainer
	mailpitClient    *MailpitClient
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	mailpitContainer, err = testutil.NewMailpitContainer(ctx)
	if err != nil {
		log.Fatalf("start mailpit: %v", err)
	}
	defer func() {
		if err := mailpitContainer.Terminate(ctx); err != nil {
			log.Printf("terminate mailpit: %v", err)
		}
	}()
	mailpitClient = NewMailpitClient(mailpitContainer.APIURL)

	if err := postgres.Migrate(migrations.FS, pgContainer.ConnectionString, postgres.MigrateUp); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = pgContainer.ConnectionString
	cfg.Database.MaxOpenConns = 5
	cfg.Database.ConnectAttempts = 3
	cfg.Database.ConnectTimeout = 30 * time.Second
	cfg.Log.Level = "error"
	cfg.Log.Format = "text"
	// The processor loop never starts because Run is not called; tests drive passes directly.
	cfg.Mailer.Quota.DailyLimit = 0
	cfg.Mailer.Quota.HourlyLimit = 0
	cfg.Mailer.Email = config.EmailConfig{
		Enabled:     true,
		SMTPHost:    mailpitContainer.SMTPHost,
		SMTPPort:    mailpitContainer.SMTPPort,
		FromAddress: "Club <club@example.com>",
		DialTimeout: 5 * time.Second,
	}

	testApp, err = app.New(&cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}
	defer testDB.Close()

	testServer = httptest.NewServer(testApp.Router())
	defer testServer.Close()
	defer testApp.Close()

	return m.Run()
}
