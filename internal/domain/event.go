package domain

import "time"

// Event represents a club event that members can attend.
type Event struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	EventDate          time.Time `json:"event_date"`
	Location           string    `json:"location"`
	Description        string    `json:"description"`
	IsActive           bool      `json:"is_active"`
	RemindersScheduled bool      `json:"reminders_scheduled"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
