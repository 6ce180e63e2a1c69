package store

import (
	"time"
)

// Item statuses shared by tasks, scheduled messages and reminders.
const (
	StatusOpen      = "open"
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusDeleted   = "deleted"
	StatusFailed    = "failed"
	StatusAll       = "all"
)

// Contact is one entry of a user's address book.
type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// UserConfig holds the user's static preferences.
type UserConfig struct {
	Name        string            `json:"name"`
	Timezone    string            `json:"timezone,omitempty"`
	Locale      string            `json:"locale,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Digest      bool              `json:"digest"`
}

// ListingItem maps a displayed 1-based index to a task id.
type ListingItem struct {
	Index  int    `json:"index"`
	ItemID string `json:"item_id"`
	Title  string `json:"title"`
}

// TaskListing is the last tasks list rendered to the user on one thread.
type TaskListing struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Items       []ListingItem `json:"items"`
}

// Resolve returns the item id shown at index, if any.
func (l *TaskListing) Resolve(index int) (string, bool) {
	if l == nil {
		return "", false
	}
	for _, it := range l.Items {
		if it.Index == index {
			return it.ItemID, true
		}
	}
	return "", false
}

// EventSummary is a compact upcoming-event view kept on the user runtime.
type EventSummary struct {
	ItemID string    `json:"item_id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
}

// UserRuntime is mutable per-user state written through on every turn.
type UserRuntime struct {
	Contacts         map[string]Contact      `json:"contacts,omitempty"`
	Listings         map[string]*TaskListing `json:"listings,omitempty"` // keyed by thread id
	NextEvents       []EventSummary          `json:"next_events,omitempty"`
	RecentCompleted  []string                `json:"recent_completed,omitempty"`
	RecentChats      []string                `json:"recent_chats,omitempty"`
	OpenTasks        int                     `json:"open_tasks"`
	ProviderInstance string                  `json:"provider_instance,omitempty"`
	KnownRecipients  map[string]string       `json:"known_recipients,omitempty"` // name -> chat id
}

// User is a registered Tami user. ID is the E.164 digits of the phone.
type User struct {
	ID                   string      `json:"id"`
	ChatID               string      `json:"chat_id"`
	Config               UserConfig  `json:"config"`
	Runtime              UserRuntime `json:"runtime"`
	CalendarRefreshToken string      `json:"calendar_refresh_token,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Listing returns the task listing recorded for a thread.
func (u *User) Listing(threadID string) *TaskListing {
	if u == nil || u.Runtime.Listings == nil {
		return nil
	}
	return u.Runtime.Listings[threadID]
}

// SetListing records the listing for a thread.
func (u *User) SetListing(threadID string, l *TaskListing) {
	if u.Runtime.Listings == nil {
		u.Runtime.Listings = make(map[string]*TaskListing)
	}
	u.Runtime.Listings[threadID] = l
}

// AddContact stores c under its name.
func (u *User) AddContact(c Contact) {
	if u.Runtime.Contacts == nil {
		u.Runtime.Contacts = make(map[string]Contact)
	}
	u.Runtime.Contacts[c.Name] = c
}

// LearnRecipient remembers the chat id used for a recipient name.
func (u *User) LearnRecipient(name, chatID string) {
	if name == "" || chatID == "" {
		return
	}
	if u.Runtime.KnownRecipients == nil {
		u.Runtime.KnownRecipients = make(map[string]string)
	}
	u.Runtime.KnownRecipients[name] = chatID
}

// Task is a to-do item.
type Task struct {
	UserID      string     `json:"user_id"`
	ItemID      string     `json:"item_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Due         *time.Time `json:"due,omitempty"`
	Status      string     `json:"status"`
	Completed   bool       `json:"completed"`
	Focus       string     `json:"focus,omitempty"`
	ParentID    string     `json:"parent_id,omitempty"`
	Context     string     `json:"context,omitempty"`
	Location    string     `json:"location,omitempty"`
	WaitingOn   string     `json:"waiting_on,omitempty"`
	BlockedBy   []string   `json:"blocked_by,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	ListID      string     `json:"list_id,omitempty"`
	Position    int        `json:"position,omitempty"`
	OpID        string     `json:"op_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SetStatus updates status and mirrors the completed flag.
func (t *Task) SetStatus(status string) {
	t.Status = status
	switch status {
	case StatusCompleted:
		t.Completed = true
	case StatusPending, StatusOpen:
		t.Completed = false
	}
}

// ScheduledMessage is a user-authored message due at a future time.
type ScheduledMessage struct {
	UserID          string     `json:"user_id"`
	ItemID          string     `json:"item_id"`
	Message         string     `json:"message"`
	ScheduledTime   time.Time  `json:"scheduled_time"` // UTC
	SenderName      string     `json:"sender_name,omitempty"`
	RecipientName   string     `json:"recipient_name,omitempty"`
	RecipientChatID string     `json:"recipient_chat_id"`
	Recurrence      string     `json:"recurrence,omitempty"` // RRULE body
	Status          string     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	LastError       string     `json:"last_error,omitempty"`
	SentAt          *time.Time `json:"sent_at,omitempty"`
	OpID            string     `json:"op_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Reminder is a self-addressed notification, optionally recurring.
type Reminder struct {
	UserID        string     `json:"user_id"`
	ItemID        string     `json:"item_id"`
	Title         string     `json:"title"`
	ScheduledTime time.Time  `json:"scheduled_time"` // UTC
	Recurrence    string     `json:"recurrence,omitempty"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	OpID          string     `json:"op_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ChatMessage is one logged WhatsApp message on a chat.
type ChatMessage struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	SenderName  string    `json:"sender_name,omitempty"`
	FromMe      bool      `json:"from_me"`
	Text        string    `json:"text,omitempty"`
	MediaType   string    `json:"media_type,omitempty"`
	ReplyToID   string    `json:"reply_to_id,omitempty"`
	LinkPreview string    `json:"link_preview,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Waitlist statuses.
const (
	WaitlistPrompted = "prompted"
	WaitlistJoined   = "joined"
	WaitlistDeclined = "declined"
)

// WaitlistEntry tracks an unknown sender through the waitlist flow.
type WaitlistEntry struct {
	ChatID    string    `json:"chat_id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ItemQuery filters list operations.
type ItemQuery struct {
	Status string
	From   *time.Time
	To     *time.Time
	Focus  string
	Limit  int
}

// MatchStatus reports whether status passes the query's status filter.
// An empty filter means "not deleted".
func (q ItemQuery) MatchStatus(status string) bool {
	switch q.Status {
	case StatusAll:
		return true
	case "":
		return status != StatusDeleted
	default:
		return status == q.Status
	}
}

// InRange reports whether t falls inside the query's window.
func (q ItemQuery) InRange(t *time.Time) bool {
	if q.From == nil && q.To == nil {
		return true
	}
	if t == nil {
		return false
	}
	if q.From != nil && t.Before(*q.From) {
		return false
	}
	if q.To != nil && t.After(*q.To) {
		return false
	}
	return true
}

// EffectiveLimit clamps Limit to [1,1000], defaulting to 100.
func (q ItemQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return 100
	case q.Limit > 1000:
		return 1000
	default:
		return q.Limit
	}
}
