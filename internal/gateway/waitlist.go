package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gaddyh/tami2-ai-sub000/internal/channels"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// Waitlist button ids.
const (
	waitlistYes = "waitlist_yes"
	waitlistNo  = "waitlist_no"
)

const (
	textWaitlistPrompt   = "היי! אני תמי, עוזרת אישית בוואטסאפ. כרגע אני פתוחה למספר מצומצם של משתמשים. להוסיף אותך לרשימת ההמתנה?"
	textWaitlistJoined   = "מעולה, הוספתי אותך לרשימת ההמתנה. אעדכן ברגע שיתפנה מקום 🙂"
	textWaitlistDeclined = "בסדר גמור. אם תתחרט/י, פשוט כתבו לי \"כן\"."
	textWaitlistAlready  = "את/ה כבר ברשימת ההמתנה. אעדכן ברגע שיתפנה מקום."
)

var waitlistButtons = []channels.Reply{
	{ID: waitlistYes, Title: "כן"},
	{ID: waitlistNo, Title: "לא עכשיו"},
}

// handleUnknown runs the waitlist flow for senders without a user record:
// first contact is asked, "yes" joins, anything else gets a polite reply.
func (w *Worker) handleUnknown(ctx context.Context, msg *channels.Message) error {
	if w.waitlist == nil {
		slog.Info("message from unknown sender ignored", "chat", msg.ChatID)
		return nil
	}
	entry, err := w.waitlist.Get(ctx, msg.ChatID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load waitlist %s: %w", msg.ChatID, err)
	}

	if entry == nil {
		entry = &store.WaitlistEntry{ChatID: msg.ChatID, Name: msg.SenderName, Status: store.WaitlistPrompted}
		if err := w.waitlist.Put(ctx, entry); err != nil {
			return fmt.Errorf("save waitlist %s: %w", msg.ChatID, err)
		}
		slog.Info("waitlist prompt", "chat", msg.ChatID)
		return channels.SendButtons(ctx, w.transport, msg.ChatID, textWaitlistPrompt, waitlistButtons)
	}

	var reply string
	switch {
	case entry.Status == store.WaitlistJoined:
		reply = textWaitlistAlready
	case isYes(msg):
		entry.Status = store.WaitlistJoined
		reply = textWaitlistJoined
	default:
		entry.Status = store.WaitlistDeclined
		reply = textWaitlistDeclined
	}
	if err := w.waitlist.Put(ctx, entry); err != nil {
		return fmt.Errorf("save waitlist %s: %w", msg.ChatID, err)
	}
	slog.Info("waitlist reply", "chat", msg.ChatID, "status", entry.Status)
	return w.reply(ctx, msg.ChatID, reply)
}

func isYes(msg *channels.Message) bool {
	if msg.Reply != nil {
		return msg.Reply.ID == waitlistYes
	}
	switch strings.ToLower(strings.Trim(strings.TrimSpace(msg.Body()), "!.")) {
	case "כן", "כ", "yes", "y", "בטח", "אשמח":
		return true
	}
	return false
}
