// Package google adapts Google Calendar to the calendar port.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/gaddyh/tami2-ai-sub000/internal/calendar"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// Provider builds per-user Google Calendar clients from stored refresh
// tokens.
type Provider struct {
	oauth      *oauth2.Config
	calendarID string
}

func NewProvider(clientID, clientSecret, calendarID string) *Provider {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     googleoauth.Endpoint,
			Scopes:       []string{gcal.CalendarScope},
		},
		calendarID: calendarID,
	}
}

func (p *Provider) ForUser(ctx context.Context, u *store.User) (calendar.Calendar, error) {
	if u == nil || u.CalendarRefreshToken == "" {
		return nil, calendar.ErrNoCredentials
	}
	ts := p.oauth.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: u.CalendarRefreshToken})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &Calendar{svc: svc, calendarID: p.calendarID}, nil
}

// Calendar is one user's Google calendar.
type Calendar struct {
	svc        *gcal.Service
	calendarID string
}

func (c *Calendar) ListEvents(ctx context.Context, from, to time.Time) ([]calendar.Event, error) {
	var out []calendar.Event
	call := c.svc.Events.List(c.calendarID).Context(ctx).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := fromGoogle(item)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (c *Calendar) Get(ctx context.Context, id string) (*calendar.Event, error) {
	item, err := c.svc.Events.Get(c.calendarID, googleID(id)).Context(ctx).Do()
	if err != nil {
		return nil, mapErr(err)
	}
	ev, err := fromGoogle(item)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Calendar) Insert(ctx context.Context, e *calendar.Event, opts calendar.WriteOptions) (*calendar.Event, error) {
	g := toGoogle(e)
	if e.ID != "" {
		g.Id = googleID(e.ID)
	}
	call := c.svc.Events.Insert(c.calendarID, g).Context(ctx)
	if opts.SendUpdates != "" {
		call = call.SendUpdates(opts.SendUpdates)
	}
	item, err := call.Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict && g.Id != "" {
			// an earlier attempt with the same op id already created it
			return c.Get(ctx, g.Id)
		}
		return nil, mapErr(err)
	}
	ev, err := fromGoogle(item)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Calendar) Patch(ctx context.Context, id string, e *calendar.Event, opts calendar.WriteOptions) (*calendar.Event, error) {
	call := c.svc.Events.Patch(c.calendarID, googleID(id), toGoogle(e)).Context(ctx)
	if opts.SendUpdates != "" {
		call = call.SendUpdates(opts.SendUpdates)
	}
	item, err := call.Do()
	if err != nil {
		return nil, mapErr(err)
	}
	ev, err := fromGoogle(item)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (c *Calendar) Delete(ctx context.Context, id string, opts calendar.WriteOptions) error {
	call := c.svc.Events.Delete(c.calendarID, googleID(id)).Context(ctx)
	if opts.SendUpdates != "" {
		call = call.SendUpdates(opts.SendUpdates)
	}
	return mapErr(call.Do())
}

func (c *Calendar) FreeBusy(ctx context.Context, from, to time.Time) ([]calendar.Interval, error) {
	resp, err := c.svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapErr(err)
	}
	cal, ok := resp.Calendars[c.calendarID]
	if !ok {
		return nil, nil
	}
	out := make([]calendar.Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		start, err1 := time.Parse(time.RFC3339, b.Start)
		end, err2 := time.Parse(time.RFC3339, b.End)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, calendar.Interval{Start: start, End: end})
	}
	return out, nil
}

// googleID strips dashes so uuid-based ids satisfy Google's base32hex
// alphabet. Instance ids ("<id>_<ts>") pass through untouched.
func googleID(id string) string {
	if strings.Contains(id, "_") {
		return id
	}
	return strings.ReplaceAll(strings.ToLower(id), "-", "")
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			return calendar.ErrNotFound
		case http.StatusUnauthorized:
			return calendar.ErrNoCredentials
		}
	}
	return fmt.Errorf("google calendar: %w", err)
}

func toGoogle(e *calendar.Event) *gcal.Event {
	g := &gcal.Event{
		Summary:     e.Title,
		Description: e.Description,
		Location:    e.Location,
		Recurrence:  e.Recurrence,
	}
	if !e.Start.IsZero() {
		g.Start = toGoogleTime(e.Start, e.AllDay, e.Timezone)
	}
	if !e.End.IsZero() {
		g.End = toGoogleTime(e.End, e.AllDay, e.Timezone)
	}
	for _, a := range e.Attendees {
		g.Attendees = append(g.Attendees, &gcal.EventAttendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Optional:    a.Optional,
		})
	}
	if e.Reminders != nil {
		g.Reminders = &gcal.EventReminders{UseDefault: false, ForceSendFields: []string{"UseDefault"}}
		for _, r := range e.Reminders {
			g.Reminders.Overrides = append(g.Reminders.Overrides, &gcal.EventReminder{Method: r.Method, Minutes: int64(r.Minutes)})
		}
	}
	return g
}

func toGoogleTime(t time.Time, allDay bool, tz string) *gcal.EventDateTime {
	if allDay {
		return &gcal.EventDateTime{Date: t.Format("2006-01-02")}
	}
	return &gcal.EventDateTime{DateTime: t.Format(time.RFC3339), TimeZone: tz}
}

func fromGoogle(g *gcal.Event) (calendar.Event, error) {
	ev := calendar.Event{
		ID:               g.Id,
		RecurringEventID: g.RecurringEventId,
		Title:            g.Summary,
		Description:      g.Description,
		Location:         g.Location,
		Recurrence:       g.Recurrence,
	}
	var err error
	if ev.Start, ev.AllDay, ev.Timezone, err = fromGoogleTime(g.Start); err != nil {
		return ev, err
	}
	if ev.End, _, _, err = fromGoogleTime(g.End); err != nil {
		return ev, err
	}
	for _, a := range g.Attendees {
		ev.Attendees = append(ev.Attendees, calendar.Attendee{
			Email:       a.Email,
			DisplayName: a.DisplayName,
			Optional:    a.Optional,
			Status:      a.ResponseStatus,
		})
	}
	if g.Reminders != nil {
		for _, r := range g.Reminders.Overrides {
			ev.Reminders = append(ev.Reminders, calendar.Reminder{Method: r.Method, Minutes: int(r.Minutes)})
		}
	}
	return ev, nil
}

func fromGoogleTime(t *gcal.EventDateTime) (time.Time, bool, string, error) {
	if t == nil {
		return time.Time{}, false, "", nil
	}
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, false, "", fmt.Errorf("parse event time: %w", err)
		}
		return parsed, false, t.TimeZone, nil
	}
	loc := time.UTC
	if t.TimeZone != "" {
		if l, err := time.LoadLocation(t.TimeZone); err == nil {
			loc = l
		}
	}
	parsed, err := time.ParseInLocation("2006-01-02", t.Date, loc)
	if err != nil {
		return time.Time{}, false, "", fmt.Errorf("parse event date: %w", err)
	}
	return parsed, true, t.TimeZone, nil
}
