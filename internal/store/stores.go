package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("item belongs to another user")
)

// opNamespace scopes deterministic item ids derived from op ids.
var opNamespace = uuid.MustParse("6f1c3f2e-7b1e-4c55-9a57-3d2b0e7f5a10")

// NewItemID returns a fresh id, or a deterministic one when opID is set so
// that retried creates land on the same item.
func NewItemID(userID, opID string) string {
	if opID != "" {
		return uuid.NewSHA1(opNamespace, []byte(userID+":"+opID)).String()
	}
	return uuid.Must(uuid.NewV7()).String()
}

// UserStore persists user records.
type UserStore interface {
	Load(ctx context.Context, userID string) (*User, error)
	Save(ctx context.Context, u *User) error
	FindByChatID(ctx context.Context, chatID string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}

// TaskStore persists tasks. Create with an existing op id returns the
// stored task unchanged.
type TaskStore interface {
	Create(ctx context.Context, t *Task) (*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, userID, itemID string) error
	UpdateStatus(ctx context.Context, userID, itemID, status string) error
	Get(ctx context.Context, userID, itemID string) (*Task, error)
	GetItems(ctx context.Context, userID string, q ItemQuery) ([]Task, error)
	QueryTasksDue(ctx context.Context, userID string, before time.Time) ([]Task, error)
}

// ScheduledMessageStore persists scheduled outbound messages.
type ScheduledMessageStore interface {
	Save(ctx context.Context, m *ScheduledMessage) (*ScheduledMessage, error)
	Update(ctx context.Context, m *ScheduledMessage) error
	Get(ctx context.Context, userID, itemID string) (*ScheduledMessage, error)
	Delete(ctx context.Context, userID, itemID string) error
	GetItems(ctx context.Context, userID string, q ItemQuery) ([]ScheduledMessage, error)
	UpdateStatus(ctx context.Context, userID, itemID, status string) error
	Due(ctx context.Context, from, to time.Time, maxRetries int) ([]ScheduledMessage, error)
}

// ReminderStore persists reminders.
type ReminderStore interface {
	CreateReminder(ctx context.Context, r *Reminder) (*Reminder, error)
	UpdateReminder(ctx context.Context, r *Reminder) error
	DeleteReminder(ctx context.Context, userID, itemID string) error
	GetReminder(ctx context.Context, userID, itemID string) (*Reminder, error)
	GetItems(ctx context.Context, userID string, q ItemQuery) ([]Reminder, error)
	Due(ctx context.Context, from, to time.Time, maxRetries int) ([]Reminder, error)
}

// ChatLogStore keeps a per-chat message log.
type ChatLogStore interface {
	Append(ctx context.Context, m ChatMessage) error
	Recent(ctx context.Context, chatID string, limit int) ([]ChatMessage, error)
}

// WaitlistStore tracks unknown senders.
type WaitlistStore interface {
	Get(ctx context.Context, chatID string) (*WaitlistEntry, error)
	Put(ctx context.Context, e *WaitlistEntry) error
}

// Stores is the top-level container for all storage backends.
type Stores struct {
	Users     UserStore
	Tasks     TaskStore
	Scheduled ScheduledMessageStore
	Reminders ReminderStore
	ChatLog   ChatLogStore
	Waitlist  WaitlistStore
}
