package tools

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/calendar"
	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// CandidateFinder resolves a free-text name to contact candidates.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, userID, name string, limit int) matcher.Result
}

// Deps are the ports the built-in tools operate on. Nil ports disable the
// tools that need them.
type Deps struct {
	Tasks     store.TaskStore
	Scheduled store.ScheduledMessageStore
	Reminders store.ReminderStore
	ChatLog   store.ChatLogStore
	Calendars calendar.Provider
	Matcher   CandidateFinder
	Search    *WebSearch
}

// Tool names.
const (
	ToolGetItems          = "get_items"
	ToolProcessTask       = "process_task"
	ToolProcessTasks      = "process_tasks"
	ToolProcessEvent      = "process_event"
	ToolProcessEvents     = "process_events"
	ToolScheduledMessage  = "process_scheduled_message"
	ToolProcessReminder   = "process_reminder"
	ToolRecipientInfo     = "get_candidates_recipient_info"
	ToolSearchChatHistory = "search_chat_history"
	ToolWebSearch         = "web_search"
)

// NewDefaultRegistry registers every built-in tool whose ports are set.
func NewDefaultRegistry(d Deps) *Registry {
	r := NewRegistry()
	if d.Tasks != nil {
		r.Register(newGetItemsTool(d))
		r.Register(newProcessTaskTool(d))
		r.Register(newProcessTasksTool(d))
	}
	if d.Calendars != nil {
		r.Register(newProcessEventTool(d))
		r.Register(newProcessEventsTool(d))
	}
	if d.Scheduled != nil {
		r.Register(newScheduledMessageTool(d))
	}
	if d.Reminders != nil {
		r.Register(newProcessReminderTool(d))
	}
	if d.Matcher != nil {
		r.Register(newRecipientInfoTool(d))
	}
	if d.ChatLog != nil {
		r.Register(newSearchChatHistoryTool(d))
	}
	if d.Search != nil {
		r.Register(newWebSearchTool(d.Search))
	}
	return r
}

func storeFailure(err error, what string) *Result {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrForbidden):
		return Failure(CodeNotFound, "%s not found", what)
	default:
		return Failure(CodeInternal, "%s: %v", what, err)
	}
}

func calendarFailure(err error, what string) *Result {
	switch {
	case errors.Is(err, calendar.ErrNoCredentials):
		return Failure(CodeNoCreds, "calendar is not connected")
	case errors.Is(err, calendar.ErrNotFound):
		return Failure(CodeNotFound, "%s not found", what)
	default:
		return Failure(CodeFetchFailed, "%s: %v", what, err)
	}
}

const recentCompletedCap = 5

// refreshTaskRuntime recomputes the open task count and remembers a
// completed title on the user runtime.
func refreshTaskRuntime(ctx context.Context, d Deps, sc *Scope, completedTitle string) {
	if sc == nil || sc.User == nil {
		return
	}
	if completedTitle != "" {
		rc := append([]string{completedTitle}, sc.User.Runtime.RecentCompleted...)
		if len(rc) > recentCompletedCap {
			rc = rc[:recentCompletedCap]
		}
		sc.User.Runtime.RecentCompleted = rc
	}
	open, err := d.Tasks.GetItems(ctx, sc.UserID, store.ItemQuery{Status: store.StatusOpen, Limit: 1000})
	if err == nil {
		sc.User.Runtime.OpenTasks = len(open)
	}
}

const nextEventsCap = 5

// refreshNextEvents stores the upcoming week's first events on the runtime.
func refreshNextEvents(ctx context.Context, cal calendar.Calendar, sc *Scope) {
	if sc == nil || sc.User == nil {
		return
	}
	now := sc.Clock()
	events, err := cal.ListEvents(ctx, now, now.AddDate(0, 0, 7))
	if err != nil {
		return
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	out := make([]store.EventSummary, 0, nextEventsCap)
	for _, e := range events {
		if len(out) == nextEventsCap {
			break
		}
		out = append(out, store.EventSummary{ItemID: e.ID, Title: e.Title, Start: e.Start})
	}
	sc.User.Runtime.NextEvents = out
}

func isoTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.RFC3339)
}
