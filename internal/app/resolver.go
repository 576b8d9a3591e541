package app

import (
	"context"

	campaignspostgres "github.com/bissquit/clubmail/internal/campaigns/postgres"
	"github.com/bissquit/clubmail/internal/domain"
	eventspostgres "github.com/bissquit/clubmail/internal/events/postgres"
	"github.com/bissquit/clubmail/internal/mailer"
)

// recipientResolver answers participant lookups from the events tables and group or
// campaign lookups from the campaigns tables.
type recipientResolver struct {
	events    *eventspostgres.Repository
	campaigns *campaignspostgres.Repository
}

var _ mailer.RecipientResolver = (*recipientResolver)(nil)

func newRecipientResolver(events *eventspostgres.Repository, campaigns *campaignspostgres.Repository) *recipientResolver {
	return &recipientResolver{events: events, campaigns: campaigns}
}

func (r *recipientResolver) ResolveEventParticipants(ctx context.Context, eventID string) ([]domain.Recipient, error) {
	return r.events.ResolveEventParticipants(ctx, eventID)
}

func (r *recipientResolver) ResolveGroupRecipients(ctx context.Context, groupIDs []string) ([]domain.Recipient, error) {
	return r.campaigns.ResolveGroupRecipients(ctx, groupIDs)
}

func (r *recipientResolver) ResolveCampaignRecipients(ctx context.Context, campaign *domain.Campaign) ([]domain.Recipient, error) {
	return r.campaigns.ResolveCampaignRecipients(ctx, campaign)
}
