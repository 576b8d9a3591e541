package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/clubmail/internal/domain"
)

// ReminderOffset is a fixed lead time before an event.
type ReminderOffset int

// Reminder offsets, longest lead time first.
const (
	Reminder24h ReminderOffset = iota
	Reminder1h
	Reminder5min
)

var reminderOffsets = []ReminderOffset{Reminder24h, Reminder1h, Reminder5min}

// Duration returns the lead time.
func (o ReminderOffset) Duration() time.Duration {
	switch o {
	case Reminder24h:
		return 24 * time.Hour
	case Reminder1h:
		return time.Hour
	case Reminder5min:
		return 5 * time.Minute
	default:
		panic(fmt.Sprintf("unknown reminder offset %d", int(o)))
	}
}

// String returns the short label used in dedup keys.
func (o ReminderOffset) String() string {
	switch o {
	case Reminder24h:
		return "24h"
	case Reminder1h:
		return "1h"
	case Reminder5min:
		return "5min"
	default:
		return fmt.Sprintf("ReminderOffset(%d)", int(o))
	}
}

// TemplateName returns the template used for this reminder.
func (o ReminderOffset) TemplateName() string {
	switch o {
	case Reminder24h:
		return TemplateEventReminder24h
	case Reminder1h:
		return TemplateEventReminder1h
	case Reminder5min:
		return TemplateEventReminder5min
	default:
		panic(fmt.Sprintf("unknown reminder offset %d", int(o)))
	}
}

func (o ReminderOffset) label() string {
	switch o {
	case Reminder24h:
		return "24 hours"
	case Reminder1h:
		return "1 hour"
	case Reminder5min:
		return "5 minutes"
	default:
		return o.String()
	}
}

// applicableOffsets returns the offsets whose send time is still in the future.
func applicableOffsets(eventDate, now time.Time) []ReminderOffset {
	offsets := make([]ReminderOffset, 0, len(reminderOffsets))
	for _, o := range reminderOffsets {
		if eventDate.Add(-o.Duration()).After(now) {
			offsets = append(offsets, o)
		}
	}
	return offsets
}

// ScheduleEventReminders enqueues reminders for every participant of an event at each
// offset that is still ahead. Calling it again after a successful run does nothing.
func (s *Scheduler) ScheduleEventReminders(ctx context.Context, eventID string) (*ScheduleResult, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	if event.RemindersScheduled {
		return &ScheduleResult{Message: "reminders already scheduled"}, nil
	}
	if !event.IsActive {
		return nil, ErrEventInactive
	}

	participants, err := s.recipients.ResolveEventParticipants(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("resolve participants: %w", err)
	}
	participants = domain.UniqueRecipients(participants)
	if len(participants) == 0 {
		return nil, ErrNoRecipients
	}

	now := s.clock.Now()
	offsets := applicableOffsets(event.EventDate, now)
	if len(offsets) == 0 {
		return nil, ErrTooLate
	}

	if err := s.quota.Allow(ctx, len(participants)*len(offsets)); err != nil {
		return nil, err
	}

	templates := make(map[ReminderOffset]*domain.EmailTemplate, len(offsets))
	for _, o := range offsets {
		tmpl, err := s.templates.ByName(ctx, o.TemplateName())
		if err != nil {
			return nil, err
		}
		templates[o] = tmpl
	}

	type planned struct {
		item *QueueItem
		key  string
	}
	plan := make([]planned, 0, len(participants)*len(offsets))
	for _, p := range participants {
		for _, o := range offsets {
			vars := s.reminderContext(event, p, o)
			content, err := s.renderer.Render(templates[o], vars)
			if err != nil {
				return nil, fmt.Errorf("render %s: %w", o.TemplateName(), err)
			}

			templateID := templates[o].ID
			plan = append(plan, planned{
				item: &QueueItem{
					RecipientEmail: p.Email,
					RecipientName:  p.Name,
					Subject:        content.Subject,
					HTMLBody:       content.HTML,
					TextBody:       content.Text,
					EmailType:      EmailTypeEventReminder,
					Priority:       PriorityEvent,
					ScheduledAt:    event.EventDate.Add(-o.Duration()),
					TemplateID:     &templateID,
					EventID:        &event.ID,
					Context:        vars,
				},
				key: EventDedupKey(event.ID, p.Key(), o),
			})
		}
	}

	result := &ScheduleResult{}
	for _, pl := range plan {
		inserted, _, err := s.enqueuer.Enqueue(ctx, pl.item, pl.key)
		if err != nil {
			return nil, err
		}
		if inserted {
			result.Enqueued++
		} else {
			result.Duplicates++
		}
	}

	if err := s.events.MarkRemindersScheduled(ctx, event.ID); err != nil {
		return nil, fmt.Errorf("mark reminders scheduled: %w", err)
	}

	result.Message = fmt.Sprintf("scheduled %d reminders for %d participants", result.Enqueued, len(participants))
	slog.Info("event reminders scheduled",
		"event_id", event.ID,
		"participants", len(participants),
		"offsets", len(offsets),
		"enqueued", result.Enqueued,
		"duplicates", result.Duplicates,
	)

	return result, nil
}

// UpcomingEventLister finds active events whose reminders are not planned yet.
type UpcomingEventLister interface {
	ListUpcomingUnscheduled(ctx context.Context, now time.Time, horizon time.Duration) ([]*domain.Event, error)
}

// ScheduleUpcomingReminders runs ScheduleEventReminders for every event starting within
// horizon. Events that fail are logged and left for the next sweep.
func (s *Scheduler) ScheduleUpcomingReminders(ctx context.Context, lister UpcomingEventLister, horizon time.Duration) (*ScheduleResult, error) {
	events, err := lister.ListUpcomingUnscheduled(ctx, s.clock.Now(), horizon)
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}

	total := &ScheduleResult{}
	var planned int
	for _, event := range events {
		result, err := s.ScheduleEventReminders(ctx, event.ID)
		if err != nil {
			if errors.Is(err, ErrTooLate) || errors.Is(err, ErrNoRecipients) || errors.Is(err, ErrEventInactive) {
				slog.Debug("event reminders not scheduled", "event_id", event.ID, "reason", err)
			} else {
				slog.Warn("failed to schedule event reminders", "event_id", event.ID, "error", err)
			}
			continue
		}
		planned++
		total.Enqueued += result.Enqueued
		total.Duplicates += result.Duplicates
	}

	total.Message = fmt.Sprintf("scheduled reminders for %d of %d events", planned, len(events))
	return total, nil
}

func (s *Scheduler) reminderContext(event *domain.Event, p domain.Recipient, o ReminderOffset) map[string]string {
	eventDate := event.EventDate
	if loc, ok := s.clock.(interface{ Location() *time.Location }); ok {
		eventDate = eventDate.In(loc.Location())
	}

	return map[string]string{
		"participant_name":  p.Name,
		"participant_email": p.Email,
		"event_id":          event.ID,
		"event_title":       event.Title,
		"event_date":        eventDate.Format("Monday, 2 January 2006"),
		"event_time":        eventDate.Format("15:04"),
		"event_location":    event.Location,
		"event_description": event.Description,
		"reminder":          o.label(),
	}
}
