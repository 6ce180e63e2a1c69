package pg

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// PGReminderStore implements store.ReminderStore.
type PGReminderStore struct {
	db *sql.DB
}

func NewPGReminderStore(db *sql.DB) *PGReminderStore {
	return &PGReminderStore{db: db}
}

const reminderSelectCols = `user_id, item_id, title, scheduled_time, recurrence, status, retry_count,
	last_error, sent_at, op_id, created_at, updated_at`

func (s *PGReminderStore) CreateReminder(ctx context.Context, r *store.Reminder) (*store.Reminder, error) {
	if r.ItemID == "" {
		r.ItemID = store.NewItemID(r.UserID, r.OpID)
	}
	if r.Status == "" {
		r.Status = store.StatusOpen
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (`+reminderSelectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (item_id) DO NOTHING`,
		r.UserID, r.ItemID, r.Title, r.ScheduledTime.UTC(), r.Recurrence, r.Status, r.RetryCount,
		r.LastError, nullTime(r.SentAt), r.OpID, now, now,
	)
	if err != nil {
		return nil, err
	}
	stored, err := s.get(ctx, r.ItemID)
	if err != nil {
		return nil, err
	}
	if stored.UserID != r.UserID {
		return nil, store.ErrForbidden
	}
	return stored, nil
}

func (s *PGReminderStore) UpdateReminder(ctx context.Context, r *store.Reminder) error {
	if err := checkOwner(ctx, s.db, "reminders", r.UserID, r.ItemID); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET title = $1, scheduled_time = $2, recurrence = $3, status = $4, retry_count = $5,
		   last_error = $6, sent_at = $7, updated_at = $8
		 WHERE item_id = $9`,
		r.Title, r.ScheduledTime.UTC(), r.Recurrence, r.Status, r.RetryCount,
		r.LastError, nullTime(r.SentAt), r.UpdatedAt, r.ItemID,
	)
	return err
}

func (s *PGReminderStore) DeleteReminder(ctx context.Context, userID, itemID string) error {
	if err := checkOwner(ctx, s.db, "reminders", userID, itemID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = $1, updated_at = $2 WHERE item_id = $3`,
		store.StatusDeleted, time.Now().UTC(), itemID)
	return err
}

func (s *PGReminderStore) GetReminder(ctx context.Context, userID, itemID string) (*store.Reminder, error) {
	if err := checkOwner(ctx, s.db, "reminders", userID, itemID); err != nil {
		return nil, err
	}
	return s.get(ctx, itemID)
}

func (s *PGReminderStore) get(ctx context.Context, itemID string) (*store.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderSelectCols+` FROM reminders WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, err
	}
	rs, err := scanReminders(rows)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return nil, store.ErrNotFound
	}
	return &rs[0], nil
}

func (s *PGReminderStore) GetItems(ctx context.Context, userID string, q store.ItemQuery) ([]store.Reminder, error) {
	f := newItemFilter(userID)
	f.apply(q, "scheduled_time")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderSelectCols+` FROM reminders WHERE `+f.sql()+
			` ORDER BY scheduled_time LIMIT `+strconv.Itoa(q.EffectiveLimit()),
		f.args...)
	if err != nil {
		return nil, err
	}
	return scanReminders(rows)
}

func (s *PGReminderStore) Due(ctx context.Context, from, to time.Time, maxRetries int) ([]store.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderSelectCols+` FROM reminders
		 WHERE status IN ('open', 'pending', 'failed') AND retry_count < $1
		   AND scheduled_time >= $2 AND scheduled_time <= $3
		 ORDER BY scheduled_time`,
		maxRetries, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]store.Reminder, error) {
	defer rows.Close()
	var out []store.Reminder
	for rows.Next() {
		var (
			r    store.Reminder
			sent sql.NullTime
		)
		if err := rows.Scan(&r.UserID, &r.ItemID, &r.Title, &r.ScheduledTime, &r.Recurrence, &r.Status,
			&r.RetryCount, &r.LastError, &sent, &r.OpID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.ScheduledTime = r.ScheduledTime.UTC()
		r.SentAt = timePtr(sent)
		out = append(out, r)
	}
	return out, rows.Err()
}
