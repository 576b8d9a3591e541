// Package postgres provides PostgreSQL access to club events and their participants.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements mailer.EventRepository and the event half of mailer.RecipientResolver.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const eventColumns = `
	id, title, event_date, location, description, is_active, reminders_scheduled, created_at, updated_at
`

// CreateEvent creates a new event in the database.
func (r *Repository) CreateEvent(ctx context.Context, event *domain.Event) error {
	query := `
		INSERT INTO events (title, event_date, location, description, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, reminders_scheduled, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		event.Title,
		event.EventDate,
		event.Location,
		event.Description,
		event.IsActive,
	).Scan(&event.ID, &event.RemindersScheduled, &event.CreatedAt, &event.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

// GetEvent retrieves an event by ID.
func (r *Repository) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id::text = $1`

	event, err := scanEvent(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mailer.ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListUpcomingUnscheduled returns active events starting within the horizon whose
// reminders have not been scheduled yet, soonest first.
func (r *Repository) ListUpcomingUnscheduled(ctx context.Context, now time.Time, horizon time.Duration) ([]*domain.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_active AND NOT reminders_scheduled
		AND event_date > $1 AND event_date <= $2
		ORDER BY event_date
	`
	rows, err := r.db.Query(ctx, query, now, now.Add(horizon))
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	defer rows.Close()

	events := make([]*domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// MarkRemindersScheduled records that reminders for the event are queued.
func (r *Repository) MarkRemindersScheduled(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE events SET reminders_scheduled = true, updated_at = NOW() WHERE id::text = $1`, id)
	if err != nil {
		return fmt.Errorf("mark reminders scheduled: %w", err)
	}
	if result.RowsAffected() == 0 {
		return mailer.ErrEventNotFound
	}
	return nil
}

// AddRegistration registers an address for an event. userID may be empty for guests.
func (r *Repository) AddRegistration(ctx context.Context, eventID, userID, email, name string) error {
	query := `
		INSERT INTO event_registrations (event_id, user_id, email, name)
		VALUES ($1::uuid, NULLIF($2, '')::uuid, $3, $4)
		ON CONFLICT (event_id, email) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, eventID, userID, email, name); err != nil {
		return fmt.Errorf("add registration: %w", err)
	}
	return nil
}

// ResolveEventParticipants returns active club members plus the event's registrants.
// The same address may appear twice; callers deduplicate.
func (r *Repository) ResolveEventParticipants(ctx context.Context, eventID string) ([]domain.Recipient, error) {
	query := `
		SELECT id::text, email, name
		FROM users
		WHERE is_club_member AND is_active
		UNION
		SELECT COALESCE(u.id::text, ''), er.email, COALESCE(NULLIF(er.name, ''), u.name, '')
		FROM event_registrations er
		LEFT JOIN users u ON u.id = er.user_id
		WHERE er.event_id::text = $1
		ORDER BY 2, 1 DESC
	`
	rows, err := r.db.Query(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("resolve event participants: %w", err)
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		var rcpt domain.Recipient
		if err := rows.Scan(&rcpt.ID, &rcpt.Email, &rcpt.Name); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		recipients = append(recipients, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return recipients, nil
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var event domain.Event
	err := row.Scan(
		&event.ID,
		&event.Title,
		&event.EventDate,
		&event.Location,
		&event.Description,
		&event.IsActive,
		&event.RemindersScheduled,
		&event.CreatedAt,
		&event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}
