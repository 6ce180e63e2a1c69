package tools

import (
	"context"
	"slices"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const defaultEventWindow = 14 * 24 * time.Hour

var itemTypes = []string{"tasks", "events", "reminders", "scheduled_messages", "action_items"}

// GetItemsQuery is the get_items argument record.
type GetItemsQuery struct {
	ItemType string `json:"item_type" jsonschema:"required,enum=tasks,enum=events,enum=reminders,enum=scheduled_messages,enum=action_items"`
	Status   string `json:"status,omitempty" jsonschema:"enum=open,enum=pending,enum=completed,enum=deleted,enum=all" jsonschema_description:"defaults to everything but deleted"`
	FromDate string `json:"from_date,omitempty" jsonschema_description:"YYYY-MM-DD or ISO-8601 lower bound"`
	ToDate   string `json:"to_date,omitempty" jsonschema_description:"YYYY-MM-DD (whole day) or ISO-8601 upper bound"`
	Focus    string `json:"focus,omitempty" jsonschema:"enum=none,enum=working,enum=next,enum=waiting,enum=scheduled"`
	Limit    int    `json:"limit,omitempty" jsonschema:"default=100" jsonschema_description:"1-1000"`
}

func (a *GetItemsQuery) Validate() *Result {
	if !slices.Contains(itemTypes, a.ItemType) {
		return Failure(CodeValidation, "unknown item_type %q", a.ItemType)
	}
	if a.Status != "" && a.Status != store.StatusAll && !slices.Contains(taskStatuses, a.Status) {
		return Failure(CodeValidation, "invalid status %q", a.Status)
	}
	if a.Focus != "" && !slices.Contains(taskFocuses, a.Focus) {
		return Failure(CodeValidation, "invalid focus %q", a.Focus)
	}
	if a.Limit < 0 || a.Limit > maxBulkLimit {
		return Failure(CodeBadInput, "limit must be between 1 and %d", maxBulkLimit)
	}
	return nil
}

type taskView struct {
	Index  int    `json:"index"`
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
	Focus  string `json:"focus,omitempty"`
	Due    string `json:"due,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type eventView struct {
	ItemID    string `json:"item_id"`
	Title     string `json:"title"`
	Start     string `json:"start"`
	End       string `json:"end"`
	AllDay    bool   `json:"all_day,omitempty"`
	Location  string `json:"location,omitempty"`
	Recurring bool   `json:"recurring,omitempty"`
}

type reminderView struct {
	ItemID     string `json:"item_id"`
	Title      string `json:"title"`
	Datetime   string `json:"datetime"`
	Status     string `json:"status"`
	Recurrence string `json:"recurrence,omitempty"`
}

type scheduledView struct {
	ItemID          string `json:"item_id"`
	Message         string `json:"message"`
	ScheduledTime   string `json:"scheduled_time"`
	RecipientName   string `json:"recipient_name,omitempty"`
	RecipientChatID string `json:"recipient_chat_id"`
	Status          string `json:"status"`
	Recurrence      string `json:"recurrence,omitempty"`
}

func newGetItemsTool(d Deps) Tool {
	return NewTool(ToolGetItems,
		"List tasks, calendar events, reminders, scheduled messages or action items (open tasks with a focus).",
		func(ctx context.Context, a GetItemsQuery, sc *Scope) *Result {
			from, to, err := parseWindow(a.FromDate, a.ToDate, sc.Loc())
			if err != nil {
				return Failure(CodeInvalidDatetime, "from_date/to_date must be YYYY-MM-DD or ISO-8601")
			}
			q := store.ItemQuery{Status: a.Status, From: from, To: to, Focus: a.Focus, Limit: a.Limit}
			switch a.ItemType {
			case "tasks":
				return listTasks(ctx, d, q, sc, true)
			case "action_items":
				q.Status = store.StatusOpen
				return listTasks(ctx, d, q, sc, false)
			case "events":
				return listEvents(ctx, d, q, sc)
			case "reminders":
				if d.Reminders == nil {
					return Failure(CodeInternal, "reminders are not available")
				}
				rs, err := d.Reminders.GetItems(ctx, sc.UserID, q)
				if err != nil {
					return storeFailure(err, "reminders")
				}
				out := make([]reminderView, 0, len(rs))
				for _, r := range rs {
					out = append(out, reminderView{r.ItemID, r.Title, isoTime(r.ScheduledTime, sc.Loc()), r.Status, r.Recurrence})
				}
				return Success("").With("items", out).With("count", len(out))
			case "scheduled_messages":
				if d.Scheduled == nil {
					return Failure(CodeInternal, "scheduled messages are not available")
				}
				ms, err := d.Scheduled.GetItems(ctx, sc.UserID, q)
				if err != nil {
					return storeFailure(err, "scheduled messages")
				}
				out := make([]scheduledView, 0, len(ms))
				for _, m := range ms {
					out = append(out, scheduledView{m.ItemID, m.Message, isoTime(m.ScheduledTime, sc.Loc()), m.RecipientName, m.RecipientChatID, m.Status, m.Recurrence})
				}
				return Success("").With("items", out).With("count", len(out))
			}
			return Failure(CodeValidation, "unknown item_type %q", a.ItemType)
		})
}

// listTasks lists tasks. Plain task listings are remembered per thread so
// that "#2" in a later turn resolves to the second row shown.
func listTasks(ctx context.Context, d Deps, q store.ItemQuery, sc *Scope, record bool) *Result {
	ts, err := d.Tasks.GetItems(ctx, sc.UserID, q)
	if err != nil {
		return storeFailure(err, "tasks")
	}
	out := make([]taskView, 0, len(ts))
	listing := &store.TaskListing{GeneratedAt: sc.Clock().UTC()}
	for _, t := range ts {
		if !record && (t.Focus == "" || t.Focus == "none") {
			continue
		}
		v := taskView{Index: len(out) + 1, ItemID: t.ItemID, Title: t.Title, Status: t.Status, Focus: t.Focus, Notes: t.Notes}
		if t.Due != nil {
			v.Due = isoTime(*t.Due, sc.Loc())
		}
		out = append(out, v)
		listing.Items = append(listing.Items, store.ListingItem{Index: v.Index, ItemID: t.ItemID, Title: t.Title})
	}
	if record && sc.User != nil {
		sc.User.SetListing(sc.ThreadID, listing)
	}
	return Success("").With("items", out).With("count", len(out))
}

func listEvents(ctx context.Context, d Deps, q store.ItemQuery, sc *Scope) *Result {
	if d.Calendars == nil {
		return Failure(CodeNoCreds, "calendar is not connected")
	}
	cal, err := d.Calendars.ForUser(ctx, sc.User)
	if err != nil {
		return calendarFailure(err, "calendar")
	}
	from := sc.Clock()
	if q.From != nil {
		from = *q.From
	}
	to := from.Add(defaultEventWindow)
	if q.To != nil {
		to = *q.To
	}
	events, err := cal.ListEvents(ctx, from, to)
	if err != nil {
		return calendarFailure(err, "events")
	}
	limit := q.EffectiveLimit()
	out := make([]eventView, 0, min(len(events), limit))
	for _, e := range events {
		if len(out) == limit {
			break
		}
		out = append(out, eventView{
			ItemID:    e.ID,
			Title:     e.Title,
			Start:     isoTime(e.Start, sc.Loc()),
			End:       isoTime(e.End, sc.Loc()),
			AllDay:    e.AllDay,
			Location:  e.Location,
			Recurring: e.RecurringEventID != "",
		})
	}
	return Success("").With("items", out).With("count", len(out))
}
