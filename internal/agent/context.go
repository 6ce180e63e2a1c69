package agent

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/providers"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

var weekdayAbbrev = [...]string{"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"}

// CalendarWindow lists days consecutive dates starting at now's date in
// loc. Dates advance by calendar day, not by 24h, so DST changes never skip
// or repeat a day.
func CalendarWindow(now time.Time, loc *time.Location, days int) []CalendarDay {
	if days <= 0 {
		return nil
	}
	local := now.In(loc)
	y, m, d := local.Date()
	out := make([]CalendarDay, 0, days)
	for i := 0; i < days; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, loc)
		out = append(out, CalendarDay{Date: day.Format("2006-01-02"), Weekday: weekdayAbbrev[day.Weekday()]})
	}
	return out
}

// BuildRuntime assembles the runtime block shown to the planner and the
// responder. u may be nil for turns without a stored user.
func BuildRuntime(env Envelope, u *store.User, now time.Time) map[string]any {
	loc := env.Location()
	local := now.In(loc)
	rt := map[string]any{
		"now":      local.Format(time.RFC3339),
		"today":    local.Format("2006-01-02"),
		"weekday":  local.Weekday().String(),
		"timezone": loc.String(),
		"input_id": env.InputID,
		"category": env.Category,
	}
	if env.Locale != "" {
		rt["locale"] = env.Locale
	}
	if env.UserName != "" {
		rt["user_name"] = env.UserName
	}
	if env.ReplyRef != "" {
		rt["reply_ref"] = env.ReplyRef
	}
	if u == nil {
		return rt
	}

	if u.Config.Name != "" {
		rt["user_name"] = u.Config.Name
	}
	if len(u.Config.Preferences) > 0 {
		rt["preferences"] = u.Config.Preferences
	}
	r := u.Runtime
	rt["open_tasks"] = r.OpenTasks
	if len(r.NextEvents) > 0 {
		events := make([]map[string]string, 0, len(r.NextEvents))
		for _, e := range r.NextEvents {
			events = append(events, map[string]string{
				"item_id": e.ItemID,
				"title":   e.Title,
				"start":   e.Start.In(loc).Format(time.RFC3339),
			})
		}
		rt["next_events"] = events
	}
	if len(r.RecentCompleted) > 0 {
		rt["recent_completed"] = r.RecentCompleted
	}
	if len(r.RecentChats) > 0 {
		rt["recent_chats"] = r.RecentChats
	}
	if len(r.Contacts) > 0 {
		names := make([]string, 0, len(r.Contacts))
		for _, c := range r.Contacts {
			names = append(names, c.Name)
		}
		sort.Strings(names)
		rt["contacts"] = names
	}
	if r.ProviderInstance != "" {
		rt["provider_instance"] = r.ProviderInstance
	}
	return rt
}

// runtimeBlock renders the runtime and the calendar window as one JSON
// document.
func runtimeBlock(c TurnContext) string {
	doc := make(map[string]any, len(c.Runtime)+1)
	for k, v := range c.Runtime {
		doc[k] = v
	}
	if len(c.CalendarWindow) > 0 {
		doc["calendar_window"] = c.CalendarWindow
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// agentHistory returns the newest limit persisted messages of target as
// chat messages, oldest first.
func agentHistory(msgs []HistoryMessage, target string, limit int) []providers.Message {
	var out []providers.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		m := msgs[i]
		if m.Agent != target || m.Content == "" {
			continue
		}
		out = append(out, providers.Message{Role: m.Role, Content: m.Content})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// trimHistory keeps the newest max persisted messages.
func trimHistory(msgs []HistoryMessage, max int) []HistoryMessage {
	if max <= 0 || len(msgs) <= max {
		return msgs
	}
	return append([]HistoryMessage(nil), msgs[len(msgs)-max:]...)
}
