package domain

import "time"

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

// Campaign statuses.
const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusSending   CampaignStatus = "sending"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// IsClosed reports whether the campaign can no longer be scheduled or dispatched.
func (s CampaignStatus) IsClosed() bool {
	return s == CampaignStatusSent || s == CampaignStatusCancelled
}

// SendType defines when a campaign is delivered.
type SendType string

// Send types.
const (
	SendTypeImmediate SendType = "immediate"
	SendTypeScheduled SendType = "scheduled"
)

// Campaign represents an operator-initiated bulk email.
type Campaign struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Status            CampaignStatus    `json:"status"`
	SendType          SendType          `json:"send_type"`
	ScheduledAt       *time.Time        `json:"scheduled_at"`
	TemplateID        string            `json:"template_id"`
	RecipientGroupIDs []string          `json:"recipient_group_ids"`
	RecipientEmails   []string          `json:"recipient_emails"`
	ContentVariables  map[string]string `json:"content_variables"`
	TotalRecipients   int               `json:"total_recipients"`
	SentCount         int               `json:"sent_count"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
