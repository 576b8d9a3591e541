package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
)

// CampaignRequest selects the recipients and send time of a campaign.
// Recipients take precedence over GroupIDs; when both are empty the campaign's
// stored recipient configuration is used. ScheduledAt overrides the stored time
// of a scheduled campaign and is ignored for immediate ones.
type CampaignRequest struct {
	CampaignID  string
	Recipients  []domain.Recipient
	GroupIDs    []string
	ScheduledAt *time.Time
}

// ScheduleCampaign enqueues one email per campaign recipient.
func (s *Scheduler) ScheduleCampaign(ctx context.Context, req CampaignRequest) (*ScheduleResult, error) {
	campaign, err := s.campaigns.GetCampaign(ctx, req.CampaignID)
	if err != nil {
		return nil, err
	}

	if campaign.Status.IsClosed() {
		return nil, fmt.Errorf("%w: status %s", ErrCampaignClosed, campaign.Status)
	}

	recipients, err := s.resolveCampaignRecipients(ctx, campaign, req)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	scheduledAt, err := s.campaignSendTime(campaign, req)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.templates.ByID(ctx, campaign.TemplateID)
	if err != nil {
		return nil, err
	}

	if err := s.quota.Allow(ctx, len(recipients)); err != nil {
		return nil, err
	}

	items := make([]*QueueItem, 0, len(recipients))
	for _, r := range recipients {
		vars := make(map[string]string, len(campaign.ContentVariables)+2)
		maps.Copy(vars, campaign.ContentVariables)
		vars["recipient_name"] = r.Name
		vars["recipient_email"] = r.Email

		content, err := s.renderer.Render(tmpl, vars)
		if err != nil {
			return nil, fmt.Errorf("render campaign template: %w", err)
		}

		items = append(items, &QueueItem{
			RecipientEmail: r.Email,
			RecipientName:  r.Name,
			Subject:        content.Subject,
			HTMLBody:       content.HTML,
			TextBody:       content.Text,
			EmailType:      EmailTypeCampaign,
			Priority:       PriorityCampaign,
			ScheduledAt:    scheduledAt,
			TemplateID:     &tmpl.ID,
			CampaignID:     &campaign.ID,
			Context:        vars,
		})
	}

	result := &ScheduleResult{}
	for _, item := range items {
		key := CampaignDedupKey(campaign.ID, strings.ToLower(item.RecipientEmail))
		inserted, _, err := s.enqueuer.Enqueue(ctx, item, key)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Enqueued++
		} else {
			result.Duplicates++
		}
	}

	status := domain.CampaignStatusScheduled
	if campaign.SendType == domain.SendTypeImmediate {
		status = domain.CampaignStatusSending
	}
	if err := s.campaigns.MarkCampaignScheduled(ctx, campaign.ID, status, len(recipients)); err != nil {
		return nil, fmt.Errorf("update campaign: %w", err)
	}

	result.Message = fmt.Sprintf("campaign queued for %d recipients", result.Enqueued)
	slog.Info("campaign scheduled",
		"campaign_id", campaign.ID,
		"send_type", campaign.SendType,
		"scheduled_at", scheduledAt,
		"recipients", len(recipients),
		"enqueued", result.Enqueued,
		"duplicates", result.Duplicates,
	)

	return result, nil
}

func (s *Scheduler) resolveCampaignRecipients(ctx context.Context, campaign *domain.Campaign, req CampaignRequest) ([]domain.Recipient, error) {
	switch {
	case len(req.Recipients) > 0:
		return domain.UniqueRecipients(req.Recipients), nil
	case len(req.GroupIDs) > 0:
		recipients, err := s.recipients.ResolveGroupRecipients(ctx, req.GroupIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve group recipients: %w", err)
		}
		return domain.UniqueRecipients(recipients), nil
	default:
		recipients, err := s.recipients.ResolveCampaignRecipients(ctx, campaign)
		if err != nil {
			return nil, fmt.Errorf("resolve campaign recipients: %w", err)
		}
		return domain.UniqueRecipients(recipients), nil
	}
}

func (s *Scheduler) campaignSendTime(campaign *domain.Campaign, req CampaignRequest) (time.Time, error) {
	switch campaign.SendType {
	case domain.SendTypeImmediate:
		return s.clock.Now(), nil
	case domain.SendTypeScheduled:
		if req.ScheduledAt != nil {
			return *req.ScheduledAt, nil
		}
		if campaign.ScheduledAt == nil {
			return time.Time{}, ErrInvalidSchedule
		}
		return *campaign.ScheduledAt, nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown send type %q", ErrInvalidSchedule, campaign.SendType)
	}
}
