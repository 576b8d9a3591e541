package testutil

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Truncate empties every clubmail table.
func Truncate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, `
		TRUNCATE email_queue, campaigns, email_templates, recipient_group_members,
			recipient_groups, event_registrations, events, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}

// CreateUser inserts a user and returns its id.
func CreateUser(ctx context.Context, db *pgxpool.Pool, email, name string, clubMember bool) (string, error) {
	var id string
	err := db.QueryRow(ctx,
		`INSERT INTO users (email, name, is_club_member) VALUES ($1, $2, $3) RETURNING id::text`,
		email, name, clubMember,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create user %s: %w", email, err)
	}
	return id, nil
}
