package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// PGChatLogStore implements store.ChatLogStore.
type PGChatLogStore struct {
	db *sql.DB
}

func NewPGChatLogStore(db *sql.DB) *PGChatLogStore {
	return &PGChatLogStore{db: db}
}

func (s *PGChatLogStore) Append(ctx context.Context, m store.ChatMessage) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, chat_id, sender_name, from_me, text, media_type, reply_to_id, link_preview, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.ChatID, m.SenderName, m.FromMe, m.Text, m.MediaType, m.ReplyToID, m.LinkPreview, ts.UTC(),
	)
	return err
}

// Recent returns up to limit messages, oldest first.
func (s *PGChatLogStore) Recent(ctx context.Context, chatID string, limit int) ([]store.ChatMessage, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_name, from_me, text, media_type, reply_to_id, link_preview, ts FROM (
		   SELECT * FROM chat_messages WHERE chat_id = $1 ORDER BY seq DESC LIMIT $2
		 ) recent ORDER BY seq`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ChatMessage
	for rows.Next() {
		var m store.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderName, &m.FromMe, &m.Text, &m.MediaType,
			&m.ReplyToID, &m.LinkPreview, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PGWaitlistStore implements store.WaitlistStore.
type PGWaitlistStore struct {
	db *sql.DB
}

func NewPGWaitlistStore(db *sql.DB) *PGWaitlistStore {
	return &PGWaitlistStore{db: db}
}

func (s *PGWaitlistStore) Get(ctx context.Context, chatID string) (*store.WaitlistEntry, error) {
	var e store.WaitlistEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, status, created_at, updated_at FROM waitlist WHERE chat_id = $1`, chatID,
	).Scan(&e.ChatID, &e.Name, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PGWaitlistStore) Put(ctx context.Context, e *store.WaitlistEntry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO waitlist (chat_id, name, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (chat_id) DO UPDATE SET name = EXCLUDED.name, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		e.ChatID, e.Name, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	return err
}
