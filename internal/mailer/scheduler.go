package mailer

import (
	"github.com/go-playground/validator/v10"
)

// SchedulerDeps groups the collaborators of a Scheduler.
type SchedulerDeps struct {
	Enqueuer   *Enqueuer
	Events     EventRepository
	Campaigns  CampaignRepository
	Recipients RecipientResolver
	Templates  *TemplateSource
	Renderer   Renderer
	Quota      *QuotaGuard
	Clock      Clock
}

// Scheduler decides when emails are sent and puts them on the queue.
type Scheduler struct {
	enqueuer   *Enqueuer
	events     EventRepository
	campaigns  CampaignRepository
	recipients RecipientResolver
	templates  *TemplateSource
	renderer   Renderer
	quota      *QuotaGuard
	clock      Clock
	validator  *validator.Validate
}

// NewScheduler creates a scheduler.
func NewScheduler(deps SchedulerDeps) *Scheduler {
	return &Scheduler{
		enqueuer:   deps.Enqueuer,
		events:     deps.Events,
		campaigns:  deps.Campaigns,
		recipients: deps.Recipients,
		templates:  deps.Templates,
		renderer:   deps.Renderer,
		quota:      deps.Quota,
		clock:      deps.Clock,
		validator:  validator.New(),
	}
}
