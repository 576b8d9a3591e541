// Package testutil starts the external services integration tests run against.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	mailpitImage  = "ghcr.io/axllent/mailpit:v1.21"

	startupTimeout = 30 * time.Second
)

// PostgresContainer is a throwaway clubmail database.
type PostgresContainer struct {
	*postgres.PostgresContainer
	ConnectionString string
}

// NewPostgresContainer starts an empty database. Migrations are left to the caller.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("clubmail"),
		postgres.WithUsername("clubmail"),
		postgres.WithPassword("clubmail"),
		// the server restarts once after initdb, so wait for the second ready line
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, terminateOnError(ctx, container, fmt.Errorf("get connection string: %w", err))
	}
	return &PostgresContainer{PostgresContainer: container, ConnectionString: connStr}, nil
}

// MailpitContainer is a fake SMTP server whose REST API exposes received mail.
type MailpitContainer struct {
	testcontainers.Container
	SMTPHost string
	SMTPPort int
	APIURL   string
}

const (
	mailpitSMTPPort nat.Port = "1025/tcp"
	mailpitAPIPort  nat.Port = "8025/tcp"
)

// NewMailpitContainer starts Mailpit with plain SMTP, no auth and no STARTTLS.
func NewMailpitContainer(ctx context.Context) (*MailpitContainer, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        mailpitImage,
			ExposedPorts: []string{string(mailpitSMTPPort), string(mailpitAPIPort)},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(mailpitSMTPPort),
				wait.ForHTTP("/api/v1/info").WithPort(mailpitAPIPort),
			).WithDeadline(startupTimeout),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start mailpit container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, terminateOnError(ctx, container, fmt.Errorf("get mailpit host: %w", err))
	}

	ports := make(map[nat.Port]int, 2)
	for _, p := range []nat.Port{mailpitSMTPPort, mailpitAPIPort} {
		mapped, err := container.MappedPort(ctx, p)
		if err != nil {
			return nil, terminateOnError(ctx, container, fmt.Errorf("get mapped port %s: %w", p, err))
		}
		ports[p] = mapped.Int()
	}

	return &MailpitContainer{
		Container: container,
		SMTPHost:  host,
		SMTPPort:  ports[mailpitSMTPPort],
		APIURL:    fmt.Sprintf("http://%s:%d", host, ports[mailpitAPIPort]),
	}, nil
}

func terminateOnError(ctx context.Context, container testcontainers.Container, err error) error {
	if termErr := container.Terminate(ctx); termErr != nil {
		return fmt.Errorf("%w (terminate: %v)", err, termErr)
	}
	return err
}
