package tools

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/calendar"
	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/recurrence"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const (
	defaultEventDuration  = time.Hour
	conflictPadding       = 24 * time.Hour
	participantCandidates = 5
)

// Participant is an event attendee as proposed by the planner.
type Participant struct {
	Email     string `json:"email,omitempty" jsonschema_description:"attendee email; needed to send an invite"`
	Name      string `json:"name,omitempty" jsonschema_description:"display name as the user said it"`
	Phone     string `json:"phone,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
	Role      string `json:"role,omitempty" jsonschema:"enum=required,enum=optional"`
	Status    string `json:"status,omitempty"`
}

func (p Participant) resolved() bool {
	return p.Email != "" || p.Phone != "" || p.ContactID != ""
}

// EventReminder overrides the calendar's default notification.
type EventReminder struct {
	Method  string `json:"method" jsonschema:"required,enum=popup,enum=email"`
	Minutes int    `json:"minutes" jsonschema:"required"`
}

// EventItem is the process_event argument record.
type EventItem struct {
	Command      string           `json:"command" jsonschema:"required,enum=create,enum=update,enum=delete"`
	ItemID       string           `json:"item_id,omitempty" jsonschema_description:"event id (or occurrence id); required for update and delete"`
	OpID         string           `json:"op_id,omitempty" jsonschema_description:"idempotency key for create"`
	Title        string           `json:"title,omitempty" jsonschema_description:"required for create"`
	Datetime     string           `json:"datetime,omitempty" jsonschema_description:"ISO-8601 start of a timed event"`
	EndDatetime  string           `json:"end_datetime,omitempty" jsonschema_description:"ISO-8601 end; defaults to one hour after start"`
	Date         string           `json:"date,omitempty" jsonschema_description:"YYYY-MM-DD start of an all-day event"`
	EndDate      string           `json:"end_date,omitempty" jsonschema_description:"YYYY-MM-DD last day of an all-day event (inclusive)"`
	Timezone     string           `json:"timezone,omitempty" jsonschema_description:"IANA zone; defaults to the user's"`
	Location     string           `json:"location,omitempty"`
	Description  string           `json:"description,omitempty"`
	Participants []Participant    `json:"participants,omitempty"`
	Recurrence   *recurrence.Rule `json:"recurrence,omitempty"`
	Reminders    []EventReminder  `json:"reminders,omitempty"`
	DeleteScope  string           `json:"delete_scope,omitempty" jsonschema:"enum=single,enum=series,enum=this_and_following,default=single"`
	SendUpdates  string           `json:"send_updates,omitempty" jsonschema:"enum=all,enum=externalOnly,enum=none"`
	Force        bool             `json:"force,omitempty" jsonschema_description:"create or move even if the slot overlaps other events"`
	Notify       bool             `json:"notify,omitempty" jsonschema_description:"notify attendees (same as send_updates=all)"`
}

func (a *EventItem) Validate() *Result {
	switch a.Command {
	case "create":
		if strings.TrimSpace(a.Title) == "" {
			return Failure(CodeMissingTitle, "title is required to create an event")
		}
		if a.Datetime == "" && a.Date == "" {
			return Failure(CodeMissingDatetime, "datetime or date is required to create an event")
		}
	case "update", "delete":
		if a.ItemID == "" {
			return Failure(CodeMissingItemID, "item_id is required for %s", a.Command)
		}
	default:
		return Failure(CodeUnknownCommand, "unknown event command %q", a.Command)
	}
	if a.Datetime != "" && a.Date != "" {
		return Failure(CodeBadInput, "use either datetime or date, not both")
	}
	if a.DeleteScope != "" && !slices.Contains([]string{"single", "series", "this_and_following"}, a.DeleteScope) {
		return Failure(CodeValidation, "invalid delete_scope %q", a.DeleteScope)
	}
	if a.Recurrence != nil && a.Recurrence.Count > 0 && a.Recurrence.Until != "" {
		return Failure(CodeBadInput, "recurrence count and until are mutually exclusive")
	}
	return nil
}

func (a *EventItem) location(sc *Scope) *time.Location {
	if a.Timezone != "" {
		if loc, err := time.LoadLocation(a.Timezone); err == nil {
			return loc
		}
	}
	return sc.Loc()
}

func (a *EventItem) writeOptions() calendar.WriteOptions {
	switch {
	case a.SendUpdates != "":
		return calendar.WriteOptions{SendUpdates: a.SendUpdates}
	case a.Notify:
		return calendar.WriteOptions{SendUpdates: "all"}
	default:
		return calendar.WriteOptions{SendUpdates: "none"}
	}
}

// times parses the start/end fields. ok is false when no time field is set.
func (a *EventItem) times(loc *time.Location) (start, end time.Time, allDay, ok bool, fail *Result) {
	switch {
	case a.Datetime != "":
		s, err := ParseDateTime(a.Datetime, loc)
		if err != nil {
			return start, end, false, false, Failure(CodeInvalidDatetime, "datetime %q is not ISO-8601", a.Datetime)
		}
		e := s.Add(defaultEventDuration)
		if a.EndDatetime != "" {
			if e, err = ParseDateTime(a.EndDatetime, loc); err != nil {
				return start, end, false, false, Failure(CodeInvalidDatetime, "end_datetime %q is not ISO-8601", a.EndDatetime)
			}
		}
		if !e.After(s) {
			return start, end, false, false, Failure(CodeBadInput, "event must end after it starts")
		}
		return s, e, false, true, nil
	case a.Date != "":
		s, err := ParseDate(a.Date, loc)
		if err != nil {
			return start, end, false, false, Failure(CodeInvalidDatetime, "date %q is not YYYY-MM-DD", a.Date)
		}
		e := s.AddDate(0, 0, 1)
		if a.EndDate != "" {
			last, err := ParseDate(a.EndDate, loc)
			if err != nil {
				return start, end, false, false, Failure(CodeInvalidDatetime, "end_date %q is not YYYY-MM-DD", a.EndDate)
			}
			if last.Before(s) {
				return start, end, false, false, Failure(CodeBadInput, "end_date is before date")
			}
			e = last.AddDate(0, 0, 1)
		}
		return s, e, true, true, nil
	case a.EndDatetime != "":
		return start, end, false, false, Failure(CodeMissingDatetime, "end_datetime needs datetime")
	}
	return start, end, false, false, nil
}

// Conflict is an existing event overlapping a requested slot.
type Conflict struct {
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

// UnresolvedParticipant is a participant that could not be tied to a
// contact, with the candidates the matcher proposes.
type UnresolvedParticipant struct {
	Name       string              `json:"name"`
	Candidates []matcher.Candidate `json:"candidates"`
}

func newProcessEventTool(d Deps) Tool {
	return NewTool(ToolProcessEvent,
		"Create, update or delete a calendar event. Overlapping slots fail with slot_taken unless force is set.",
		func(ctx context.Context, a EventItem, sc *Scope) *Result {
			return processEvent(ctx, d, a, sc)
		})
}

func processEvent(ctx context.Context, d Deps, a EventItem, sc *Scope) *Result {
	var u *store.User
	if sc != nil {
		u = sc.User
	}
	cal, err := d.Calendars.ForUser(ctx, u)
	if err != nil {
		return calendarFailure(err, "calendar")
	}
	var res *Result
	switch a.Command {
	case "create":
		res = createEvent(ctx, d, cal, a, sc)
	case "update":
		res = updateEvent(ctx, d, cal, a, sc)
	case "delete":
		res = deleteEvent(ctx, cal, a)
	default:
		return Failure(CodeUnknownCommand, "unknown event command %q", a.Command)
	}
	if res.OK {
		refreshNextEvents(ctx, cal, sc)
	}
	return res
}

func createEvent(ctx context.Context, d Deps, cal calendar.Calendar, a EventItem, sc *Scope) *Result {
	loc := a.location(sc)
	start, end, allDay, _, fail := a.times(loc)
	if fail != nil {
		return fail
	}
	id := store.NewItemID(sc.UserID, a.OpID)
	if a.OpID != "" {
		// replayed create: the deterministic id already exists
		if existing, err := cal.Get(ctx, id); err == nil {
			return eventResult(existing, loc)
		}
	}
	ev := &calendar.Event{
		ID:          id,
		Title:       a.Title,
		Description: a.Description,
		Location:    a.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Timezone:    loc.String(),
		Reminders:   toCalendarReminders(a.Reminders),
	}
	if a.Recurrence != nil {
		rule, err := recurrence.Build(*a.Recurrence, loc)
		if err != nil {
			return Failure(CodeBadInput, "recurrence: %v", err)
		}
		ev.SetRRule(rule)
	}
	attendees, unresolved := splitParticipants(ctx, d, a.Participants, sc)
	ev.Attendees = attendees

	if !a.Force && !allDay {
		conflicts, err := findConflicts(ctx, cal, start, end, "")
		if err != nil {
			return calendarFailure(err, "calendar")
		}
		if len(conflicts) > 0 {
			return Failure(CodeSlotTaken, "the requested time overlaps %d event(s)", len(conflicts)).With("conflicts", conflicts)
		}
	}

	created, err := cal.Insert(ctx, ev, a.writeOptions())
	if err != nil {
		return calendarFailure(err, "event")
	}
	res := eventResult(created, loc)
	if len(unresolved) > 0 {
		res.With("unresolved_participants", unresolved)
	}
	return res
}

func updateEvent(ctx context.Context, d Deps, cal calendar.Calendar, a EventItem, sc *Scope) *Result {
	cur, err := cal.Get(ctx, a.ItemID)
	if err != nil {
		return calendarFailure(err, "event")
	}
	loc := a.location(sc)
	patch := &calendar.Event{
		Title:       a.Title,
		Description: a.Description,
		Location:    a.Location,
		Timezone:    a.Timezone,
	}

	start, end, allDay, timed, fail := a.times(loc)
	if fail != nil {
		return fail
	}
	if timed {
		if a.EndDatetime == "" && a.EndDate == "" {
			// moving without an explicit end keeps the duration
			end = start.Add(cur.End.Sub(cur.Start))
		}
		patch.Start, patch.End, patch.AllDay = start, end, allDay
		if !a.Force && !allDay {
			conflicts, err := findConflicts(ctx, cal, start, end, cur.ID, cur.RecurringEventID)
			if err != nil {
				return calendarFailure(err, "calendar")
			}
			if len(conflicts) > 0 {
				return Failure(CodeSlotTaken, "the requested time overlaps %d event(s)", len(conflicts)).With("conflicts", conflicts)
			}
		}
	}

	if a.Recurrence != nil {
		rule, err := recurrence.Build(*a.Recurrence, loc)
		if err != nil {
			return Failure(CodeBadInput, "recurrence: %v", err)
		}
		patch.Recurrence = append([]string(nil), cur.Recurrence...)
		patch.SetRRule(rule)
	}
	if a.Reminders != nil {
		patch.Reminders = toCalendarReminders(a.Reminders)
	}

	var unresolved []UnresolvedParticipant
	if len(a.Participants) > 0 {
		var added []calendar.Attendee
		added, unresolved = splitParticipants(ctx, d, a.Participants, sc)
		patch.Attendees = mergeAttendees(cur.Attendees, added)
	}

	updated, err := cal.Patch(ctx, a.ItemID, patch, a.writeOptions())
	if err != nil {
		return calendarFailure(err, "event")
	}
	res := eventResult(updated, loc)
	if len(unresolved) > 0 {
		res.With("unresolved_participants", unresolved)
	}
	return res
}

func deleteEvent(ctx context.Context, cal calendar.Calendar, a EventItem) *Result {
	cur, err := cal.Get(ctx, a.ItemID)
	if err != nil {
		return calendarFailure(err, "event")
	}
	opts := a.writeOptions()
	scope := a.DeleteScope
	if scope == "" {
		scope = "single"
	}
	if cur.RecurringEventID == "" {
		// not an occurrence: every scope removes the event itself
		scope = "single"
	}

	switch scope {
	case "single":
		err = cal.Delete(ctx, a.ItemID, opts)
	case "series":
		err = cal.Delete(ctx, cur.RecurringEventID, opts)
	case "this_and_following":
		err = truncateSeries(ctx, cal, cur, opts)
	}
	if err != nil {
		return calendarFailure(err, "event")
	}
	return Success(a.ItemID).With("title", cur.Title).With("delete_scope", scope)
}

// truncateSeries ends the master series just before the occurrence.
func truncateSeries(ctx context.Context, cal calendar.Calendar, occ *calendar.Event, opts calendar.WriteOptions) error {
	master, err := cal.Get(ctx, occ.RecurringEventID)
	if err != nil {
		return err
	}
	if !occ.Start.After(master.Start) {
		return cal.Delete(ctx, master.ID, opts)
	}
	rule := master.RRule()
	if rule == "" {
		return cal.Delete(ctx, occ.ID, opts)
	}
	truncated, err := recurrence.TruncateBefore(rule, occ.Start)
	if err != nil {
		return err
	}
	patch := &calendar.Event{Recurrence: append([]string(nil), master.Recurrence...)}
	patch.SetRRule(truncated)
	_, err = cal.Patch(ctx, master.ID, patch, opts)
	return err
}

// findConflicts lists timed events overlapping [start, end), looking one
// day either side so long events are caught. Events whose id or master id
// is in skip are ignored.
func findConflicts(ctx context.Context, cal calendar.Calendar, start, end time.Time, skip ...string) ([]Conflict, error) {
	events, err := cal.ListEvents(ctx, start.Add(-conflictPadding), end.Add(conflictPadding))
	if err != nil {
		return nil, err
	}
	ignored := func(e calendar.Event) bool {
		for _, s := range skip {
			if s != "" && (e.ID == s || e.RecurringEventID == s) {
				return true
			}
		}
		return false
	}
	var out []Conflict
	for _, e := range events {
		if e.AllDay || ignored(e) || !e.Overlaps(start, end) {
			continue
		}
		loc := start.Location()
		out = append(out, Conflict{ItemID: e.ID, Title: e.Title, Start: isoTime(e.Start, loc), End: isoTime(e.End, loc)})
	}
	return out, nil
}

// splitParticipants turns planner participants into calendar attendees.
// Participants with no email, phone or contact id are returned as
// unresolved, with candidates from the contact book.
func splitParticipants(ctx context.Context, d Deps, ps []Participant, sc *Scope) ([]calendar.Attendee, []UnresolvedParticipant) {
	var attendees []calendar.Attendee
	var unresolved []UnresolvedParticipant
	for _, p := range ps {
		if !p.resolved() {
			u := UnresolvedParticipant{Name: p.Name}
			if d.Matcher != nil && p.Name != "" {
				u.Candidates = d.Matcher.FindCandidates(ctx, sc.UserID, p.Name, participantCandidates).Candidates
			}
			unresolved = append(unresolved, u)
			continue
		}
		if p.Email == "" {
			continue
		}
		attendees = append(attendees, calendar.Attendee{
			Email:       p.Email,
			DisplayName: p.Name,
			Optional:    p.Role == "optional",
			Status:      p.Status,
		})
	}
	return attendees, unresolved
}

func mergeAttendees(cur, added []calendar.Attendee) []calendar.Attendee {
	out := append([]calendar.Attendee(nil), cur...)
	for _, a := range added {
		dup := slices.ContainsFunc(out, func(b calendar.Attendee) bool {
			return strings.EqualFold(a.Email, b.Email)
		})
		if !dup {
			out = append(out, a)
		}
	}
	return out
}

func toCalendarReminders(rs []EventReminder) []calendar.Reminder {
	if rs == nil {
		return nil
	}
	out := make([]calendar.Reminder, 0, len(rs))
	for _, r := range rs {
		out = append(out, calendar.Reminder{Method: r.Method, Minutes: r.Minutes})
	}
	return out
}

func eventResult(e *calendar.Event, loc *time.Location) *Result {
	res := Success(e.ID).
		With("title", e.Title).
		With("start", isoTime(e.Start, loc)).
		With("end", isoTime(e.End, loc))
	if e.AllDay {
		res.With("all_day", true)
	}
	if rule := e.RRule(); rule != "" {
		res.With("recurrence", rule)
	}
	if len(e.Attendees) > 0 {
		res.With("attendees", e.Attendees)
	}
	return res
}
