package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/recurrence"
	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const reminderPrefix = "⏰ תזכורת: "

// RunDue sends every scheduled message and reminder due in
// [now-lookback, now] and returns how many were delivered. Failed sends are
// marked failed and retried on later ticks until the retry cap.
func (s *Scheduler) RunDue(ctx context.Context) (int, error) {
	now := s.now().UTC()
	from := now.Add(-s.lookback)
	var (
		sent int
		errs []error
	)

	if s.stores.Scheduled != nil {
		msgs, err := s.stores.Scheduled.Due(ctx, from, now, s.maxRetries)
		if err != nil {
			errs = append(errs, fmt.Errorf("scheduled due: %w", err))
		}
		for i := range msgs {
			ok, err := s.dispatchScheduled(ctx, &msgs[i], now)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				sent++
			}
		}
	}

	if s.stores.Reminders != nil {
		rs, err := s.stores.Reminders.Due(ctx, from, now, s.maxRetries)
		if err != nil {
			errs = append(errs, fmt.Errorf("reminders due: %w", err))
		}
		for i := range rs {
			ok, err := s.dispatchReminder(ctx, &rs[i], now)
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				sent++
			}
		}
	}
	return sent, errors.Join(errs...)
}

func (s *Scheduler) dispatchScheduled(ctx context.Context, m *store.ScheduledMessage, now time.Time) (bool, error) {
	sendErr := s.send(ctx, m.RecipientChatID, m.Message, []string{m.SenderName, m.Message})
	if sendErr != nil {
		m.Status = store.StatusFailed
		m.RetryCount++
		m.LastError = sendErr.Error()
		slog.Warn("scheduled message failed", "item", m.ItemID, "retry", m.RetryCount, "error", sendErr)
	} else {
		m.SentAt = &now
		m.LastError = ""
		m.ScheduledTime, m.Status = s.advance(m.Recurrence, m.ScheduledTime, now)
		if m.Status == store.StatusPending {
			m.RetryCount = 0
		}
		slog.Info("scheduled message sent", "item", m.ItemID, "to", m.RecipientChatID, "status", m.Status)
	}
	if err := s.stores.Scheduled.Update(ctx, m); err != nil {
		return sendErr == nil, fmt.Errorf("update scheduled %s: %w", m.ItemID, err)
	}
	return sendErr == nil, nil
}

func (s *Scheduler) dispatchReminder(ctx context.Context, r *store.Reminder, now time.Time) (bool, error) {
	var sendErr error
	u, err := s.stores.Users.Load(ctx, r.UserID)
	switch {
	case err != nil:
		sendErr = fmt.Errorf("load user: %w", err)
	case u.ChatID == "":
		sendErr = errors.New("user has no chat id")
	default:
		text := reminderPrefix + r.Title
		sendErr = s.send(ctx, u.ChatID, text, []string{u.Config.Name, text})
	}

	if sendErr != nil {
		r.Status = store.StatusFailed
		r.RetryCount++
		r.LastError = sendErr.Error()
		slog.Warn("reminder failed", "item", r.ItemID, "retry", r.RetryCount, "error", sendErr)
	} else {
		r.SentAt = &now
		r.LastError = ""
		r.ScheduledTime, r.Status = s.advance(r.Recurrence, r.ScheduledTime, now)
		if r.Status == store.StatusPending {
			r.RetryCount = 0
		}
		slog.Info("reminder sent", "item", r.ItemID, "user", r.UserID, "status", r.Status)
	}
	if err := s.stores.Reminders.UpdateReminder(ctx, r); err != nil {
		return sendErr == nil, fmt.Errorf("update reminder %s: %w", r.ItemID, err)
	}
	return sendErr == nil, nil
}

// send delivers text, falling back to the approved template when a free
// text message is refused (outside the customer-care window).
func (s *Scheduler) send(ctx context.Context, chatID, text string, templateParams []string) error {
	if chatID == "" {
		return errors.New("no recipient chat id")
	}
	_, err := s.transport.SendMessage(ctx, chatID, text, "")
	if err == nil {
		return nil
	}
	if terr := s.transport.SendTemplateMessage(ctx, chatID, templateParams); terr != nil {
		return errors.Join(err, terr)
	}
	slog.Info("delivered through template", "chat", chatID, "text_error", err)
	return nil
}

// advance moves a delivered item to its next occurrence. Items without a
// rule, or whose rule is exhausted, are completed. Occurrences are expanded
// in the scheduler's timezone so local wall-clock times survive DST, and
// occurrences already in the past are skipped.
func (s *Scheduler) advance(rule string, at, now time.Time) (time.Time, string) {
	if rule == "" {
		return at, store.StatusCompleted
	}
	after := at
	if now.After(after) {
		after = now
	}
	next, ok, err := recurrence.Next(rule, at.In(s.loc), after)
	if err != nil {
		slog.Warn("bad recurrence rule", "rule", rule, "error", err)
		return at, store.StatusCompleted
	}
	if !ok {
		return at, store.StatusCompleted
	}
	return next.UTC(), store.StatusPending
}
