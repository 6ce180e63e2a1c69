package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

func runCreateEvent(t *testing.T, h *harness, args map[string]any) *Result {
	t.Helper()
	args["command"] = "create"
	return h.run(t, ToolProcessEvent, args)
}

func listEventViews(t *testing.T, h *harness, from, to string) []eventView {
	t.Helper()
	res := h.run(t, ToolGetItems, map[string]any{"item_type": "events", "from_date": from, "to_date": to})
	require.True(t, res.OK, res.Error)
	var out []eventView
	require.True(t, res.Field("items", &out))
	return out
}

func TestProcessEvent_CreateDefaultsToOneHour(t *testing.T) {
	h := newHarness(t)
	res := runCreateEvent(t, h, map[string]any{"title": "פגישה עם רואה חשבון", "datetime": "2026-03-02T10:00"})
	require.True(t, res.OK, res.Error)
	assert.NotEmpty(t, res.ItemID)

	var start, end string
	require.True(t, res.Field("start", &start))
	require.True(t, res.Field("end", &end))
	assert.Equal(t, "2026-03-02T10:00:00+02:00", start)
	assert.Equal(t, "2026-03-02T11:00:00+02:00", end)

	require.Len(t, h.user.Runtime.NextEvents, 1)
	assert.Equal(t, res.ItemID, h.user.Runtime.NextEvents[0].ItemID)
}

func TestProcessEvent_Validation(t *testing.T) {
	h := newHarness(t)
	cases := []struct {
		args map[string]any
		code string
	}{
		{map[string]any{"command": "create", "datetime": "2026-03-02T10:00"}, CodeMissingTitle},
		{map[string]any{"command": "create", "title": "x"}, CodeMissingDatetime},
		{map[string]any{"command": "delete"}, CodeMissingItemID},
		{map[string]any{"command": "create", "title": "x", "datetime": "tomorrow"}, CodeInvalidDatetime},
		{map[string]any{"command": "create", "title": "x", "datetime": "2026-03-02T10:00", "end_datetime": "2026-03-02T09:00"}, CodeBadInput},
		{map[string]any{"command": "create", "title": "x", "date": "2026-03-02",
			"recurrence": map[string]any{"freq": "weekly", "count": 3, "until": "2026-05-01"}}, CodeBadInput},
		{map[string]any{"command": "create", "title": "x", "date": "2026-03-02",
			"recurrence": map[string]any{"freq": "hourly"}}, CodeBadInput},
		{map[string]any{"command": "update", "item_id": "nope", "title": "y"}, CodeNotFound},
	}
	for _, tc := range cases {
		res := h.run(t, ToolProcessEvent, tc.args)
		assert.False(t, res.OK, "%v", tc.args)
		assert.Equal(t, tc.code, res.Code, "%v", tc.args)
	}
}

func TestProcessEvent_NoCalendar(t *testing.T) {
	h := newHarness(t)
	h.sc.User = nil
	res := runCreateEvent(t, h, map[string]any{"title": "x", "datetime": "2026-03-02T10:00"})
	assert.Equal(t, CodeNoCreds, res.Code)
}

func TestProcessEvent_ConflictUnlessForced(t *testing.T) {
	h := newHarness(t)
	first := runCreateEvent(t, h, map[string]any{"title": "רופא", "datetime": "2026-03-02T10:00"})
	require.True(t, first.OK)

	clash := runCreateEvent(t, h, map[string]any{"title": "ספר", "datetime": "2026-03-02T10:30"})
	assert.False(t, clash.OK)
	assert.Equal(t, CodeSlotTaken, clash.Code)
	var conflicts []Conflict
	require.True(t, clash.Field("conflicts", &conflicts))
	require.Len(t, conflicts, 1)
	assert.Equal(t, first.ItemID, conflicts[0].ItemID)

	forced := runCreateEvent(t, h, map[string]any{"title": "ספר", "datetime": "2026-03-02T10:30", "force": true})
	assert.True(t, forced.OK, forced.Error)

	// back-to-back and all-day events do not conflict
	next := runCreateEvent(t, h, map[string]any{"title": "ישיבה", "datetime": "2026-03-02T11:30"})
	assert.True(t, next.OK, next.Error)
	allDay := runCreateEvent(t, h, map[string]any{"title": "יום הולדת", "date": "2026-03-02"})
	assert.True(t, allDay.OK, allDay.Error)
}

func TestProcessEvent_UpdateKeepsDurationAndIgnoresSelf(t *testing.T) {
	h := newHarness(t)
	ev := runCreateEvent(t, h, map[string]any{"title": "סדנה", "datetime": "2026-03-03T09:00", "end_datetime": "2026-03-03T11:00"})
	require.True(t, ev.OK)

	moved := h.run(t, ToolProcessEvent, map[string]any{"command": "update", "item_id": ev.ItemID, "datetime": "2026-03-03T10:00"})
	require.True(t, moved.OK, moved.Error)
	var end string
	require.True(t, moved.Field("end", &end))
	assert.Equal(t, "2026-03-03T12:00:00+02:00", end)
}

func TestProcessEvent_CreateReplayWithOpID(t *testing.T) {
	h := newHarness(t)
	args := func() map[string]any {
		return map[string]any{"title": "רופא שיניים", "datetime": "2026-03-02T10:00", "op_id": "op-7"}
	}
	first := runCreateEvent(t, h, args())
	require.True(t, first.OK, first.Error)

	again := runCreateEvent(t, h, args())
	require.True(t, again.OK, again.Error)
	assert.Equal(t, first.ItemID, again.ItemID)
	assert.Len(t, listEventViews(t, h, "2026-03-02", "2026-03-03"), 1)
}

func TestProcessEvent_UpdateWithoutTimesKeepsSlot(t *testing.T) {
	h := newHarness(t)
	ev := runCreateEvent(t, h, map[string]any{"title": "סדנה", "datetime": "2026-03-03T09:00", "end_datetime": "2026-03-03T11:30"})
	require.True(t, ev.OK)

	renamed := h.run(t, ToolProcessEvent, map[string]any{"command": "update", "item_id": ev.ItemID, "title": "סדנת קרמיקה"})
	require.True(t, renamed.OK, renamed.Error)
	var title, start, end string
	require.True(t, renamed.Field("title", &title))
	require.True(t, renamed.Field("start", &start))
	require.True(t, renamed.Field("end", &end))
	assert.Equal(t, "סדנת קרמיקה", title)
	assert.Equal(t, "2026-03-03T09:00:00+02:00", start)
	assert.Equal(t, "2026-03-03T11:30:00+02:00", end)
}

func TestProcessEvent_Participants(t *testing.T) {
	h := newHarness(t, store.Contact{Name: "דנה כהן", Phone: "0501234567", Email: "dana@example.com"})
	res := runCreateEvent(t, h, map[string]any{
		"title":    "קפה",
		"datetime": "2026-03-04T08:00",
		"participants": []map[string]any{
			{"name": "דנה"},
			{"name": "יוסי", "email": "yossi@example.com"},
		},
	})
	require.True(t, res.OK, res.Error)

	var unresolved []UnresolvedParticipant
	require.True(t, res.Field("unresolved_participants", &unresolved))
	require.Len(t, unresolved, 1)
	assert.Equal(t, "דנה", unresolved[0].Name)
	require.NotEmpty(t, unresolved[0].Candidates)
	assert.Equal(t, "dana@example.com", unresolved[0].Candidates[0].Email)

	var attendees []map[string]any
	require.True(t, res.Field("attendees", &attendees))
	require.Len(t, attendees, 1)
	assert.Equal(t, "yossi@example.com", attendees[0]["email"])

	upd := h.run(t, ToolProcessEvent, map[string]any{
		"command": "update", "item_id": res.ItemID,
		"participants": []map[string]any{{"name": "דנה כהן", "email": "dana@example.com"}},
	})
	require.True(t, upd.OK, upd.Error)
	require.True(t, upd.Field("attendees", &attendees))
	assert.Len(t, attendees, 2)
}

func TestProcessEvent_RecurringDeleteScopes(t *testing.T) {
	h := newHarness(t)
	res := runCreateEvent(t, h, map[string]any{
		"title":      "חוג",
		"datetime":   "2026-03-03T17:00",
		"recurrence": map[string]any{"freq": "weekly", "count": 4},
	})
	require.True(t, res.OK, res.Error)
	var rule string
	require.True(t, res.Field("recurrence", &rule))
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", rule)

	views := listEventViews(t, h, "2026-03-01", "2026-03-31")
	require.Len(t, views, 4)
	for _, v := range views {
		assert.True(t, v.Recurring)
	}

	del := h.run(t, ToolProcessEvent, map[string]any{"command": "delete", "item_id": views[2].ItemID, "delete_scope": "this_and_following"})
	require.True(t, del.OK, del.Error)
	assert.Len(t, listEventViews(t, h, "2026-03-01", "2026-03-31"), 2)

	del = h.run(t, ToolProcessEvent, map[string]any{"command": "delete", "item_id": views[0].ItemID})
	require.True(t, del.OK, del.Error)
	left := listEventViews(t, h, "2026-03-01", "2026-03-31")
	require.Len(t, left, 1)
	assert.Equal(t, views[1].ItemID, left[0].ItemID)

	del = h.run(t, ToolProcessEvent, map[string]any{"command": "delete", "item_id": left[0].ItemID, "delete_scope": "series"})
	require.True(t, del.OK, del.Error)
	assert.Empty(t, listEventViews(t, h, "2026-03-01", "2026-03-31"))
}

func TestProcessEvent_TruncateFromFirstDeletesSeries(t *testing.T) {
	h := newHarness(t)
	res := runCreateEvent(t, h, map[string]any{
		"title":      "ריצה",
		"datetime":   "2026-03-02T06:00",
		"recurrence": map[string]any{"freq": "daily", "count": 3},
	})
	require.True(t, res.OK)
	views := listEventViews(t, h, "2026-03-01", "2026-03-10")
	require.Len(t, views, 3)

	del := h.run(t, ToolProcessEvent, map[string]any{"command": "delete", "item_id": views[0].ItemID, "delete_scope": "this_and_following"})
	require.True(t, del.OK, del.Error)
	assert.Empty(t, listEventViews(t, h, "2026-03-01", "2026-03-10"))
}

func TestProcessEvents_BulkAggregates(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolProcessEvents, map[string]any{"items": []map[string]any{
		{"command": "create", "title": "א", "datetime": "2026-03-05T10:00"},
		{"command": "create", "title": "ב", "datetime": "2026-03-05T10:15"},
		{"command": "create", "datetime": "2026-03-05T12:00"},
	}})
	assert.False(t, res.OK)
	assert.Equal(t, CodeSlotTaken, res.Code)

	var results []bulkEventResult
	require.True(t, res.Field("results", &results))
	require.Len(t, results, 3)
	assert.True(t, results[0].OK)
	assert.Equal(t, CodeSlotTaken, results[1].Code)
	require.Len(t, results[1].Conflicts, 1)
	assert.Equal(t, CodeMissingTitle, results[2].Code)
	assert.Equal(t, 2, results[2].Index)
}

func TestProcessEvents_Cap(t *testing.T) {
	h := newHarness(t)
	items := make([]map[string]any, 21)
	for i := range items {
		items[i] = map[string]any{"command": "delete", "item_id": "x"}
	}
	res := h.run(t, ToolProcessEvents, map[string]any{"items": items})
	assert.Equal(t, CodeBadInput, res.Code)
}
