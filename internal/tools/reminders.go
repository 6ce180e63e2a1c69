package tools

import (
	"context"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/recurrence"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// ReminderItem is the process_reminder argument record.
type ReminderItem struct {
	Command    string           `json:"command" jsonschema:"required,enum=create,enum=update,enum=delete"`
	ItemID     string           `json:"item_id,omitempty"`
	OpID       string           `json:"op_id,omitempty"`
	Title      string           `json:"title,omitempty" jsonschema_description:"what to remind about; required for create"`
	Datetime   string           `json:"datetime,omitempty" jsonschema_description:"ISO-8601 time of the reminder, in the user's timezone when naive"`
	Recurrence *recurrence.Rule `json:"recurrence,omitempty"`
}

func (a *ReminderItem) Validate() *Result {
	switch a.Command {
	case "create":
		if strings.TrimSpace(a.Title) == "" {
			return Failure(CodeMissingTitle, "title is required to create a reminder")
		}
		if a.Datetime == "" {
			return Failure(CodeMissingDatetime, "datetime is required to create a reminder")
		}
	case "update", "delete":
		if a.ItemID == "" {
			return Failure(CodeMissingItemID, "item_id is required for %s", a.Command)
		}
	default:
		return Failure(CodeUnknownCommand, "unknown reminder command %q", a.Command)
	}
	return nil
}

func newProcessReminderTool(d Deps) Tool {
	return NewTool(ToolProcessReminder,
		"Create, update or delete a reminder sent to the user at a given time, optionally recurring.",
		func(ctx context.Context, a ReminderItem, sc *Scope) *Result {
			switch a.Command {
			case "create":
				r := &store.Reminder{
					UserID: sc.UserID,
					ItemID: store.NewItemID(sc.UserID, a.OpID),
					OpID:   a.OpID,
					Title:  a.Title,
					Status: store.StatusOpen,
				}
				if res := a.schedule(r, sc); res != nil {
					return res
				}
				created, err := d.Reminders.CreateReminder(ctx, r)
				if err != nil {
					return storeFailure(err, "reminder")
				}
				return reminderResult(created, sc)

			case "update":
				r, err := d.Reminders.GetReminder(ctx, sc.UserID, a.ItemID)
				if err != nil {
					return storeFailure(err, "reminder")
				}
				if a.Title != "" {
					r.Title = a.Title
				}
				if a.Datetime != "" || a.Recurrence != nil {
					if res := a.schedule(r, sc); res != nil {
						return res
					}
					r.Status, r.RetryCount, r.LastError = store.StatusOpen, 0, ""
				}
				if err := d.Reminders.UpdateReminder(ctx, r); err != nil {
					return storeFailure(err, "reminder")
				}
				return reminderResult(r, sc)

			case "delete":
				if err := d.Reminders.DeleteReminder(ctx, sc.UserID, a.ItemID); err != nil {
					return storeFailure(err, "reminder")
				}
				return Success(a.ItemID).With("status", store.StatusDeleted)
			}
			return Failure(CodeUnknownCommand, "unknown reminder command %q", a.Command)
		})
}

func (a ReminderItem) schedule(r *store.Reminder, sc *Scope) *Result {
	if a.Datetime != "" {
		t, err := ParseDateTime(a.Datetime, sc.Loc())
		if err != nil {
			return Failure(CodeInvalidDatetime, "datetime %q is not ISO-8601", a.Datetime)
		}
		if t.Before(sc.Clock().Truncate(time.Minute)) {
			return Failure(CodeBadInput, "datetime %s is in the past", isoTime(t, sc.Loc()))
		}
		r.ScheduledTime = t.UTC()
	}
	if a.Recurrence != nil {
		rule, err := recurrence.Build(*a.Recurrence, sc.Loc())
		if err != nil {
			return Failure(CodeBadInput, "recurrence: %v", err)
		}
		r.Recurrence = rule
	}
	return nil
}

func reminderResult(r *store.Reminder, sc *Scope) *Result {
	res := Success(r.ItemID).
		With("title", r.Title).
		With("datetime", isoTime(r.ScheduledTime, sc.Loc())).
		With("status", r.Status)
	if r.Recurrence != "" {
		res.With("recurrence", r.Recurrence)
	}
	return res
}
