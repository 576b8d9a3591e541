// Package postgres provides PostgreSQL access to campaigns, email templates and recipient groups.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/clubmail/internal/domain"
	"github.com/bissquit/clubmail/internal/mailer"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements mailer.CampaignRepository, mailer.TemplateRepository and
// the group half of mailer.RecipientResolver.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const campaignColumns = `
	id, name, status, send_type, scheduled_at, COALESCE(template_id::text, ''),
	recipient_group_ids::text[], recipient_emails, content_variables,
	total_recipients, sent_count, created_at, updated_at
`

// CreateCampaign creates a new campaign.
func (r *Repository) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	query := `
		INSERT INTO campaigns (
			name, status, send_type, scheduled_at, template_id,
			recipient_group_ids, recipient_emails, content_variables
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6::text[]::uuid[], $7, $8)
		RETURNING id, created_at, updated_at
	`
	groupIDs := c.RecipientGroupIDs
	if groupIDs == nil {
		groupIDs = []string{}
	}
	emails := c.RecipientEmails
	if emails == nil {
		emails = []string{}
	}
	vars := c.ContentVariables
	if vars == nil {
		vars = map[string]string{}
	}

	err := r.db.QueryRow(ctx, query,
		c.Name,
		c.Status,
		c.SendType,
		c.ScheduledAt,
		c.TemplateID,
		groupIDs,
		emails,
		vars,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetCampaign retrieves a campaign by ID.
func (r *Repository) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id::text = $1`

	var c domain.Campaign
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.SendType,
		&c.ScheduledAt,
		&c.TemplateID,
		&c.RecipientGroupIDs,
		&c.RecipientEmails,
		&c.ContentVariables,
		&c.TotalRecipients,
		&c.SentCount,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mailer.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

// MarkCampaignScheduled stores the status and recipient total after a campaign is queued.
func (r *Repository) MarkCampaignScheduled(ctx context.Context, id string, status domain.CampaignStatus, totalRecipients int) error {
	query := `
		UPDATE campaigns
		SET status = $2, total_recipients = $3, updated_at = NOW()
		WHERE id::text = $1
	`
	result, err := r.db.Exec(ctx, query, id, status, totalRecipients)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return mailer.ErrCampaignNotFound
	}
	return nil
}

// IncrementSentCount counts one delivered email and closes the campaign once all are out.
func (r *Repository) IncrementSentCount(ctx context.Context, id string) error {
	query := `
		UPDATE campaigns
		SET sent_count = sent_count + 1,
			status = CASE
				WHEN sent_count + 1 >= total_recipients AND status IN ('scheduled', 'sending') THEN 'sent'
				WHEN status = 'scheduled' THEN 'sending'
				ELSE status
			END,
			updated_at = NOW()
		WHERE id::text = $1
	`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment sent count: %w", err)
	}
	if result.RowsAffected() == 0 {
		return mailer.ErrCampaignNotFound
	}
	return nil
}

// CancelCampaign marks a campaign cancelled. Queued items are skipped at dispatch.
func (r *Repository) CancelCampaign(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx,
		`UPDATE campaigns SET status = 'cancelled', updated_at = NOW() WHERE id::text = $1 AND status <> 'sent'`, id)
	if err != nil {
		return fmt.Errorf("cancel campaign: %w", err)
	}
	if result.RowsAffected() == 0 {
		return mailer.ErrCampaignClosed
	}
	return nil
}

// CreateTemplate creates a new email template.
func (r *Repository) CreateTemplate(ctx context.Context, t *domain.EmailTemplate) error {
	query := `
		INSERT INTO email_templates (name, subject, html_content, text_content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, t.Name, t.Subject, t.HTMLContent, t.TextContent).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID.
func (r *Repository) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	return r.getTemplate(ctx, "id::text", id)
}

// GetTemplateByName retrieves a template by its unique name.
func (r *Repository) GetTemplateByName(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	return r.getTemplate(ctx, "name", name)
}

func (r *Repository) getTemplate(ctx context.Context, column, value string) (*domain.EmailTemplate, error) {
	query := `
		SELECT id, name, subject, html_content, text_content, created_at, updated_at
		FROM email_templates
		WHERE ` + column + ` = $1
	`
	var t domain.EmailTemplate
	err := r.db.QueryRow(ctx, query, value).Scan(
		&t.ID,
		&t.Name,
		&t.Subject,
		&t.HTMLContent,
		&t.TextContent,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", mailer.ErrTemplateNotFound, value)
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &t, nil
}

// CreateGroup creates a recipient group with the given members.
func (r *Repository) CreateGroup(ctx context.Context, name string, userIDs []string) (string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id string
	if err := tx.QueryRow(ctx, `INSERT INTO recipient_groups (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}

	for _, userID := range userIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO recipient_group_members (group_id, user_id) VALUES ($1::uuid, $2::uuid) ON CONFLICT DO NOTHING`,
			id, userID)
		if err != nil {
			return "", fmt.Errorf("add group member: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// ResolveGroupRecipients returns the active members of the given groups.
func (r *Repository) ResolveGroupRecipients(ctx context.Context, groupIDs []string) ([]domain.Recipient, error) {
	if len(groupIDs) == 0 {
		return []domain.Recipient{}, nil
	}

	query := `
		SELECT DISTINCT u.id::text, u.email, u.name
		FROM recipient_group_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id::text = ANY($1::text[]) AND u.is_active
		ORDER BY 2
	`
	rows, err := r.db.Query(ctx, query, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve group recipients: %w", err)
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		var rcpt domain.Recipient
		if err := rows.Scan(&rcpt.ID, &rcpt.Email, &rcpt.Name); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return recipients, nil
}

// ResolveCampaignRecipients returns the members of the campaign's groups followed by its
// explicit addresses.
func (r *Repository) ResolveCampaignRecipients(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	recipients, err := r.ResolveGroupRecipients(ctx, c.RecipientGroupIDs)
	if err != nil {
		return nil, err
	}
	for _, email := range c.RecipientEmails {
		recipients = append(recipients, domain.Recipient{Email: email})
	}
	return recipients, nil
}
