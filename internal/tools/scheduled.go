package tools

import (
	"context"
	"strings"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/matcher"
	"github.com/gaddyh/tami2-ai-sub000/internal/phone"
	"github.com/gaddyh/tami2-ai-sub000/internal/recurrence"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// ScheduledMessageItem is the process_scheduled_message argument record.
type ScheduledMessageItem struct {
	Command         string           `json:"command" jsonschema:"required,enum=create,enum=update,enum=delete"`
	ItemID          string           `json:"item_id,omitempty" jsonschema_description:"required for update and delete"`
	OpID            string           `json:"op_id,omitempty"`
	Message         string           `json:"message,omitempty" jsonschema_description:"text to send; required for create"`
	ScheduledTime   string           `json:"scheduled_time,omitempty" jsonschema_description:"ISO-8601 send time, not in the past; naive values are Asia/Jerusalem"`
	SenderName      string           `json:"sender_name,omitempty"`
	RecipientName   string           `json:"recipient_name,omitempty" jsonschema_description:"who receives it; empty means the user"`
	RecipientChatID string           `json:"recipient_chat_id,omitempty" jsonschema_description:"WhatsApp chat id (<digits>@c.us or <id>@g.us) or phone number"`
	Recurrence      *recurrence.Rule `json:"recurrence,omitempty"`
}

func (a *ScheduledMessageItem) Validate() *Result {
	switch a.Command {
	case "create":
		if strings.TrimSpace(a.Message) == "" {
			return Failure(CodeValidation, "message is required")
		}
		if a.ScheduledTime == "" {
			return Failure(CodeMissingDatetime, "scheduled_time is required")
		}
	case "update", "delete":
		if a.ItemID == "" {
			return Failure(CodeMissingItemID, "item_id is required for %s", a.Command)
		}
	default:
		return Failure(CodeUnknownCommand, "unknown scheduled message command %q", a.Command)
	}
	return nil
}

func newScheduledMessageTool(d Deps) Tool {
	return NewTool(ToolScheduledMessage,
		"Schedule a WhatsApp message to the user or to someone else, or change or cancel one.",
		func(ctx context.Context, a ScheduledMessageItem, sc *Scope) *Result {
			return processScheduled(ctx, d, a, sc)
		})
}

func processScheduled(ctx context.Context, d Deps, a ScheduledMessageItem, sc *Scope) *Result {
	switch a.Command {
	case "create":
		m := &store.ScheduledMessage{
			UserID:     sc.UserID,
			ItemID:     store.NewItemID(sc.UserID, a.OpID),
			OpID:       a.OpID,
			Message:    a.Message,
			SenderName: a.SenderName,
			Status:     store.StatusOpen,
		}
		if m.SenderName == "" {
			m.SenderName = sc.SenderName
		}
		if r := applySchedule(&m.ScheduledTime, &m.Recurrence, a.ScheduledTime, a.Recurrence, sc); r != nil {
			return r
		}
		if r := resolveRecipient(ctx, d, m, a.RecipientName, a.RecipientChatID, sc); r != nil {
			return r
		}
		saved, err := d.Scheduled.Save(ctx, m)
		if err != nil {
			return storeFailure(err, "scheduled message")
		}
		return scheduledResult(saved, sc)

	case "update":
		m, err := d.Scheduled.Get(ctx, sc.UserID, a.ItemID)
		if err != nil {
			return storeFailure(err, "scheduled message")
		}
		if a.Message != "" {
			m.Message = a.Message
		}
		if a.SenderName != "" {
			m.SenderName = a.SenderName
		}
		if a.ScheduledTime != "" || a.Recurrence != nil {
			raw := a.ScheduledTime
			if raw == "" {
				raw = m.ScheduledTime.Format(time.RFC3339)
			}
			if r := applySchedule(&m.ScheduledTime, &m.Recurrence, raw, a.Recurrence, sc); r != nil {
				return r
			}
			// a new time re-arms a failed or sent message
			m.Status, m.RetryCount, m.LastError = store.StatusOpen, 0, ""
		}
		if a.RecipientName != "" || a.RecipientChatID != "" {
			if r := resolveRecipient(ctx, d, m, a.RecipientName, a.RecipientChatID, sc); r != nil {
				return r
			}
		}
		if err := d.Scheduled.Update(ctx, m); err != nil {
			return storeFailure(err, "scheduled message")
		}
		return scheduledResult(m, sc)

	case "delete":
		if err := d.Scheduled.Delete(ctx, sc.UserID, a.ItemID); err != nil {
			return storeFailure(err, "scheduled message")
		}
		return Success(a.ItemID).With("status", store.StatusDeleted)
	}
	return Failure(CodeUnknownCommand, "unknown scheduled message command %q", a.Command)
}

// applySchedule parses a send time (naive values in Asia/Jerusalem), rejects
// past times and builds the recurrence rule.
func applySchedule(dst *time.Time, rule *string, raw string, rec *recurrence.Rule, sc *Scope) *Result {
	t, err := ParseDateTime(raw, DefaultLocation())
	if err != nil {
		return Failure(CodeInvalidDatetime, "scheduled_time %q is not ISO-8601", raw)
	}
	if t.Before(sc.Clock()) {
		return Failure(CodeBadInput, "scheduled_time %s is in the past", isoTime(t, sc.Loc()))
	}
	*dst = t.UTC()
	if rec != nil {
		r, err := recurrence.Build(*rec, DefaultLocation())
		if err != nil {
			return Failure(CodeBadInput, "recurrence: %v", err)
		}
		*rule = r
	}
	return nil
}

// resolveRecipient fills the recipient chat id from an explicit chat id or
// number, a remembered name, or a single contact match. An empty recipient
// is the user.
func resolveRecipient(ctx context.Context, d Deps, m *store.ScheduledMessage, name, chatID string, sc *Scope) *Result {
	m.RecipientName = name
	switch {
	case chatID != "":
		id, err := phone.ChatID(chatID)
		if err != nil {
			return Failure(CodeBadInput, "recipient_chat_id %q is not a WhatsApp chat id or phone number", chatID)
		}
		m.RecipientChatID = id
	case name == "":
		if sc.User == nil || sc.User.ChatID == "" {
			return Failure(CodeBadInput, "no recipient")
		}
		m.RecipientChatID = sc.User.ChatID
	case phone.LooksLikeNumber(name):
		id, err := phone.ChatID(name)
		if err != nil {
			return Failure(CodeBadInput, "%q is not a valid phone number", name)
		}
		m.RecipientChatID, m.RecipientName = id, ""
	default:
		if sc.User != nil {
			if id, ok := sc.User.Runtime.KnownRecipients[name]; ok {
				m.RecipientChatID = id
				break
			}
		}
		if d.Matcher == nil {
			return Failure(CodeBadInput, "cannot resolve recipient %q", name)
		}
		res := d.Matcher.FindCandidates(ctx, sc.UserID, name, participantCandidates)
		reachable := make([]matcher.Candidate, 0, len(res.Candidates))
		for _, c := range res.Candidates {
			if c.ChatID != "" {
				reachable = append(reachable, c)
			}
		}
		if len(reachable) != 1 {
			return Failure(CodeBadInput, "recipient %q matched %d contacts; pass recipient_chat_id", name, len(reachable)).
				With("candidates", stripEmails(reachable))
		}
		m.RecipientChatID = reachable[0].ChatID
	}
	if sc.User != nil && m.RecipientName != "" {
		sc.User.LearnRecipient(m.RecipientName, m.RecipientChatID)
	}
	return nil
}

func scheduledResult(m *store.ScheduledMessage, sc *Scope) *Result {
	res := Success(m.ItemID).
		With("scheduled_time", isoTime(m.ScheduledTime, sc.Loc())).
		With("recipient_chat_id", m.RecipientChatID).
		With("status", m.Status)
	if m.RecipientName != "" {
		res.With("recipient_name", m.RecipientName)
	}
	if m.Recurrence != "" {
		res.With("recurrence", m.Recurrence)
	}
	return res
}
