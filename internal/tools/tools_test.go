package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/calendar"
	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
	"github.com/gaddyh/tami2-ai-sub000/internal/store/memory"
)

type staticContacts map[string]store.Contact

func (s staticContacts) Contacts(context.Context, string) (map[string]store.Contact, error) {
	return s, nil
}

type harness struct {
	reg   *Registry
	deps  Deps
	sc    *Scope
	user  *store.User
	calnd *calendar.MemoryProvider
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, DefaultLocation())

func newHarness(t *testing.T, contacts ...store.Contact) *harness {
	t.Helper()
	book := staticContacts{}
	for _, c := range contacts {
		book[c.Name] = c
	}
	stores := memory.NewStores()
	cals := calendar.NewMemoryProvider()
	user := &store.User{ID: "972500000001", ChatID: "972500000001@c.us", Config: store.UserConfig{Name: "גיא"}}
	d := Deps{
		Tasks:     stores.Tasks,
		Scheduled: stores.Scheduled,
		Reminders: stores.Reminders,
		ChatLog:   stores.ChatLog,
		Calendars: cals,
		Matcher:   matcher.New(book),
	}
	return &harness{
		reg:   NewDefaultRegistry(d),
		deps:  d,
		user:  user,
		calnd: cals,
		sc: &Scope{
			UserID:   user.ID,
			ThreadID: user.ChatID,
			User:     user,
			Now:      testNow,
			Location: DefaultLocation(),
		},
	}
}

func (h *harness) run(t *testing.T, tool string, args any) *Result {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	res := h.reg.Execute(context.Background(), tool, raw, h.sc)
	require.NotNil(t, res)
	return res
}

func TestRegistry_UnknownTool(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, "delete_everything", map[string]any{})
	assert.False(t, res.OK)
	assert.Equal(t, CodeValidation, res.Code)
}

func TestRegistry_UnknownFieldRejected(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolProcessTask, map[string]any{"command": "create", "title": "x", "priority": "high"})
	assert.False(t, res.OK)
	assert.Equal(t, CodeValidation, res.Code)
}

func TestRegistry_PanicBecomesException(t *testing.T) {
	r := NewRegistry()
	r.Register(NewTool("boom", "panics", func(context.Context, struct{}, *Scope) *Result {
		panic("kaboom")
	}))
	res := r.Execute(context.Background(), "boom", nil, nil)
	assert.Equal(t, CodeException, res.Code)
}

func TestRegistry_NilPortsSkipTools(t *testing.T) {
	r := NewDefaultRegistry(Deps{Tasks: memory.NewTaskStore()})
	assert.Equal(t, []string{ToolGetItems, ToolProcessTask, ToolProcessTasks}, r.Names())
}

func TestRegistry_Subset(t *testing.T) {
	h := newHarness(t)
	sub := h.reg.Subset(ToolProcessEvent, "missing", ToolGetItems)
	assert.Equal(t, []string{ToolProcessEvent, ToolGetItems}, sub.Names())
}

func TestReference(t *testing.T) {
	h := newHarness(t)
	ref := h.reg.Subset(ToolProcessTask, ToolProcessEvent).Reference()
	assert.Contains(t, ref, "### process_task")
	assert.Contains(t, ref, "- command (string, required, one of: create|update|delete|complete)")
	assert.Contains(t, ref, "- title (string, optional)")
	// nested participant fields are expanded under process_event
	assert.Contains(t, ref, "    - email (string, optional)")
}

func TestResult_JSONFlattensFields(t *testing.T) {
	res := Failure(CodeSlotTaken, "busy").With("conflicts", []Conflict{{ItemID: "e1"}})
	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":false,"error":"busy","code":"slot_taken","conflicts":[{"item_id":"e1","title":"","start":"","end":""}]}`, string(raw))

	var back Result
	require.NoError(t, json.Unmarshal(raw, &back))
	var cs []Conflict
	require.True(t, back.Field("conflicts", &cs))
	assert.Equal(t, "e1", cs[0].ItemID)
}

func TestHistoryBook(t *testing.T) {
	h := HistoryBook{}
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	h.Record(NewCall("process_task", nil, Success("a"), t0), 2)
	h.Record(NewCall("process_task", nil, Failure(CodeNotFound, "gone"), t0.Add(time.Minute)), 2)
	h.Record(NewCall("process_task", nil, Success("b"), t0.Add(2*time.Minute)), 2)

	th := h["process_task"]
	require.Len(t, th.Calls, 2)
	assert.Equal(t, "b", th.Calls[0].Result.ItemID)
	assert.Equal(t, "b", th.Latest.Result.ItemID)
	assert.Equal(t, "gone", th.LastError.Error)
	assert.Equal(t, "b", h.Last("process_task").Result.ItemID)

	since := h.Since("process_task", t0.Add(30*time.Second))
	require.Len(t, since, 2)
	assert.Equal(t, CodeNotFound, since[0].Result.Code)
	assert.Nil(t, h.Last("process_event"))
}

func TestHistoryBook_LastFallsBackToError(t *testing.T) {
	h := HistoryBook{}
	h.Record(NewCall("process_event", nil, Failure(CodeNoCreds, "no calendar"), time.Now()), 5)
	assert.Equal(t, CodeNoCreds, h.Last("process_event").Result.Code)
}
