package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

func TestScheduledMessage_SelfByDefault(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolScheduledMessage, map[string]any{
		"command":        "create",
		"message":        "להתקשר לאמא",
		"scheduled_time": "2026-03-01T11:00",
	})
	require.True(t, res.OK, res.Error)

	m, err := h.deps.Scheduled.Get(context.Background(), h.sc.UserID, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, h.user.ChatID, m.RecipientChatID)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), m.ScheduledTime.UTC())
	assert.Equal(t, store.StatusOpen, m.Status)
}

func TestScheduledMessage_RejectsPast(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolScheduledMessage, map[string]any{
		"command":        "create",
		"message":        "מאוחר מדי",
		"scheduled_time": "2026-03-01T09:59",
	})
	assert.Equal(t, CodeBadInput, res.Code)

	res = h.run(t, ToolScheduledMessage, map[string]any{
		"command":        "create",
		"message":        "x",
		"scheduled_time": "soon",
	})
	assert.Equal(t, CodeInvalidDatetime, res.Code)
}

func TestScheduledMessage_SecondsBeforeNowArePast(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolScheduledMessage, map[string]any{
		"command":        "create",
		"message":        "חצי דקה מאוחר",
		"scheduled_time": "2026-03-01T09:59:30+02:00",
	})
	assert.Equal(t, CodeBadInput, res.Code)

	res = h.run(t, ToolScheduledMessage, map[string]any{
		"command":        "create",
		"message":        "עכשיו",
		"scheduled_time": "2026-03-01T10:00:00+02:00",
	})
	assert.True(t, res.OK, res.Error)
}

func TestScheduledMessage_Recipients(t *testing.T) {
	h := newHarness(t,
		store.Contact{Name: "דנה כהן", Phone: "0501234567"},
		store.Contact{Name: "רון לוי", Phone: "0521111111"},
		store.Contact{Name: "רון אבני", Phone: "0522222222"},
	)
	base := map[string]any{"command": "create", "message": "שלום", "scheduled_time": "2026-03-02T09:00:00+02:00"}
	with := func(kv ...string) map[string]any {
		out := map[string]any{}
		for k, v := range base {
			out[k] = v
		}
		for i := 0; i < len(kv); i += 2 {
			out[kv[i]] = kv[i+1]
		}
		return out
	}

	res := h.run(t, ToolScheduledMessage, with("recipient_name", "דנה"))
	require.True(t, res.OK, res.Error)
	var chatID string
	require.True(t, res.Field("recipient_chat_id", &chatID))
	assert.Equal(t, "972501234567@c.us", chatID)
	assert.Equal(t, "972501234567@c.us", h.user.Runtime.KnownRecipients["דנה"])

	res = h.run(t, ToolScheduledMessage, with("recipient_name", "רון"))
	assert.Equal(t, CodeBadInput, res.Code)
	var cands []map[string]any
	require.True(t, res.Field("candidates", &cands))
	assert.Len(t, cands, 2)

	res = h.run(t, ToolScheduledMessage, with("recipient_chat_id", "120363025246125486@g.us"))
	require.True(t, res.OK, res.Error)

	res = h.run(t, ToolScheduledMessage, with("recipient_name", "054-765-4321"))
	require.True(t, res.OK, res.Error)
	require.True(t, res.Field("recipient_chat_id", &chatID))
	assert.Equal(t, "972547654321@c.us", chatID)

	res = h.run(t, ToolScheduledMessage, with("recipient_chat_id", "not-a-chat"))
	assert.Equal(t, CodeBadInput, res.Code)
}

func TestScheduledMessage_UpdateAndDelete(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolScheduledMessage, map[string]any{
		"command": "create", "message": "a", "scheduled_time": "2026-03-01T12:00",
	})
	require.True(t, res.OK)

	upd := h.run(t, ToolScheduledMessage, map[string]any{
		"command": "update", "item_id": res.ItemID, "scheduled_time": "2026-03-01T13:00",
		"recurrence": map[string]any{"freq": "daily", "count": 2},
	})
	require.True(t, upd.OK, upd.Error)
	m, err := h.deps.Scheduled.Get(context.Background(), h.sc.UserID, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, 11, m.ScheduledTime.UTC().Hour())
	assert.Equal(t, "FREQ=DAILY;COUNT=2", m.Recurrence)

	del := h.run(t, ToolScheduledMessage, map[string]any{"command": "delete", "item_id": res.ItemID})
	require.True(t, del.OK)
	m, err = h.deps.Scheduled.Get(context.Background(), h.sc.UserID, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDeleted, m.Status)
}

func TestProcessReminder(t *testing.T) {
	h := newHarness(t)
	res := h.run(t, ToolProcessReminder, map[string]any{
		"command": "create", "title": "לקחת תרופה", "datetime": "2026-03-01T20:00",
		"recurrence": map[string]any{"freq": "daily"},
	})
	require.True(t, res.OK, res.Error)

	r, err := h.deps.Reminders.GetReminder(context.Background(), h.sc.UserID, res.ItemID)
	require.NoError(t, err)
	assert.Equal(t, 18, r.ScheduledTime.UTC().Hour())
	assert.Equal(t, "FREQ=DAILY", r.Recurrence)

	list := h.run(t, ToolGetItems, map[string]any{"item_type": "reminders"})
	var items []reminderView
	require.True(t, list.Field("items", &items))
	require.Len(t, items, 1)
	assert.Equal(t, "2026-03-01T20:00:00+02:00", items[0].Datetime)

	missing := h.run(t, ToolProcessReminder, map[string]any{"command": "create", "title": "x"})
	assert.Equal(t, CodeMissingDatetime, missing.Code)
}
