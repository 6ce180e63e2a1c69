// Package calendar defines the calendar port and an in-memory backend.
package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

var (
	ErrNoCredentials = errors.New("no calendar credentials")
	ErrNotFound      = errors.New("event not found")
)

// Attendee is an event participant.
type Attendee struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Reminder is an event notification override.
type Reminder struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

// Event is a calendar entry. For all-day events Start/End hold local
// midnights and End is exclusive.
type Event struct {
	ID               string     `json:"id"`
	RecurringEventID string     `json:"recurring_event_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Location         string     `json:"location,omitempty"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	AllDay           bool       `json:"all_day,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	Attendees        []Attendee `json:"attendees,omitempty"`
	Recurrence       []string   `json:"recurrence,omitempty"` // "RRULE:..." / "EXDATE:..." lines
	Reminders        []Reminder `json:"reminders,omitempty"`
}

// RRule returns the first RRULE line of the event, without prefix.
func (e *Event) RRule() string {
	for _, line := range e.Recurrence {
		if len(line) > 6 && line[:6] == "RRULE:" {
			return line[6:]
		}
	}
	return ""
}

// SetRRule replaces the RRULE line, keeping other recurrence lines.
func (e *Event) SetRRule(rule string) {
	out := make([]string, 0, len(e.Recurrence)+1)
	for _, line := range e.Recurrence {
		if len(line) > 6 && line[:6] == "RRULE:" {
			continue
		}
		out = append(out, line)
	}
	if rule != "" {
		out = append([]string{"RRULE:" + rule}, out...)
	}
	e.Recurrence = out
}

// Overlaps reports whether e intersects [start, end).
func (e *Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && start.Before(e.End)
}

// Interval is a busy block.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WriteOptions tune insert/patch/delete.
type WriteOptions struct {
	SendUpdates string // "all", "externalOnly", "none"
}

// Calendar is one user's calendar.
type Calendar interface {
	// ListEvents returns single (expanded) events intersecting [from, to).
	ListEvents(ctx context.Context, from, to time.Time) ([]Event, error)
	Get(ctx context.Context, id string) (*Event, error)
	Insert(ctx context.Context, e *Event, opts WriteOptions) (*Event, error)
	Patch(ctx context.Context, id string, e *Event, opts WriteOptions) (*Event, error)
	Delete(ctx context.Context, id string, opts WriteOptions) error
	FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error)
}

// Provider hands out per-user calendars. It returns ErrNoCredentials when
// the user has not connected a calendar.
type Provider interface {
	ForUser(ctx context.Context, u *store.User) (Calendar, error)
}
