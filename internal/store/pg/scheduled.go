package pg

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// PGScheduledStore implements store.ScheduledMessageStore.
type PGScheduledStore struct {
	db *sql.DB
}

func NewPGScheduledStore(db *sql.DB) *PGScheduledStore {
	return &PGScheduledStore{db: db}
}

const scheduledSelectCols = `user_id, item_id, message, scheduled_time, sender_name, recipient_name,
	recipient_chat_id, recurrence, status, retry_count, last_error, sent_at, op_id, created_at, updated_at`

func (s *PGScheduledStore) Save(ctx context.Context, m *store.ScheduledMessage) (*store.ScheduledMessage, error) {
	if m.ItemID == "" {
		m.ItemID = store.NewItemID(m.UserID, m.OpID)
	}
	if m.Status == "" {
		m.Status = store.StatusOpen
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_messages (`+scheduledSelectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (item_id) DO NOTHING`,
		m.UserID, m.ItemID, m.Message, m.ScheduledTime.UTC(), m.SenderName, m.RecipientName,
		m.RecipientChatID, m.Recurrence, m.Status, m.RetryCount, m.LastError, nullTime(m.SentAt), m.OpID, now, now,
	)
	if err != nil {
		return nil, err
	}
	stored, err := s.get(ctx, m.ItemID)
	if err != nil {
		return nil, err
	}
	if stored.UserID != m.UserID {
		return nil, store.ErrForbidden
	}
	return stored, nil
}

func (s *PGScheduledStore) Update(ctx context.Context, m *store.ScheduledMessage) error {
	if err := checkOwner(ctx, s.db, "scheduled_messages", m.UserID, m.ItemID); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET message = $1, scheduled_time = $2, sender_name = $3, recipient_name = $4,
		   recipient_chat_id = $5, recurrence = $6, status = $7, retry_count = $8, last_error = $9, sent_at = $10,
		   updated_at = $11
		 WHERE item_id = $12`,
		m.Message, m.ScheduledTime.UTC(), m.SenderName, m.RecipientName,
		m.RecipientChatID, m.Recurrence, m.Status, m.RetryCount, m.LastError, nullTime(m.SentAt),
		m.UpdatedAt, m.ItemID,
	)
	return err
}

func (s *PGScheduledStore) Get(ctx context.Context, userID, itemID string) (*store.ScheduledMessage, error) {
	if err := checkOwner(ctx, s.db, "scheduled_messages", userID, itemID); err != nil {
		return nil, err
	}
	return s.get(ctx, itemID)
}

func (s *PGScheduledStore) get(ctx context.Context, itemID string) (*store.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledSelectCols+` FROM scheduled_messages WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, err
	}
	ms, err := scanScheduled(rows)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, store.ErrNotFound
	}
	return &ms[0], nil
}

func (s *PGScheduledStore) Delete(ctx context.Context, userID, itemID string) error {
	return s.UpdateStatus(ctx, userID, itemID, store.StatusDeleted)
}

func (s *PGScheduledStore) UpdateStatus(ctx context.Context, userID, itemID, status string) error {
	if err := checkOwner(ctx, s.db, "scheduled_messages", userID, itemID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_messages SET status = $1, updated_at = $2 WHERE item_id = $3`,
		status, time.Now().UTC(), itemID)
	return err
}

func (s *PGScheduledStore) GetItems(ctx context.Context, userID string, q store.ItemQuery) ([]store.ScheduledMessage, error) {
	f := newItemFilter(userID)
	f.apply(q, "scheduled_time")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledSelectCols+` FROM scheduled_messages WHERE `+f.sql()+
			` ORDER BY scheduled_time LIMIT `+strconv.Itoa(q.EffectiveLimit()),
		f.args...)
	if err != nil {
		return nil, err
	}
	return scanScheduled(rows)
}

// Due returns dispatchable messages in [from, to] across all users.
func (s *PGScheduledStore) Due(ctx context.Context, from, to time.Time, maxRetries int) ([]store.ScheduledMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledSelectCols+` FROM scheduled_messages
		 WHERE status IN ('open', 'pending', 'failed') AND retry_count < $1
		   AND scheduled_time >= $2 AND scheduled_time <= $3
		 ORDER BY scheduled_time`,
		maxRetries, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return scanScheduled(rows)
}

func scanScheduled(rows *sql.Rows) ([]store.ScheduledMessage, error) {
	defer rows.Close()
	var out []store.ScheduledMessage
	for rows.Next() {
		var (
			m    store.ScheduledMessage
			sent sql.NullTime
		)
		if err := rows.Scan(&m.UserID, &m.ItemID, &m.Message, &m.ScheduledTime, &m.SenderName, &m.RecipientName,
			&m.RecipientChatID, &m.Recurrence, &m.Status, &m.RetryCount, &m.LastError, &sent, &m.OpID,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.ScheduledTime = m.ScheduledTime.UTC()
		m.SentAt = timePtr(sent)
		out = append(out, m)
	}
	return out, rows.Err()
}
