package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// PGUserStore implements store.UserStore. Config and runtime are JSONB
// documents so new preference fields need no migration.
type PGUserStore struct {
	db *sql.DB
}

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userSelectCols = `id, chat_id, config, runtime, calendar_refresh_token, created_at, updated_at`

func (s *PGUserStore) Load(ctx context.Context, userID string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE id = $1`, userID))
}

func (s *PGUserStore) FindByChatID(ctx context.Context, chatID string) (*store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userSelectCols+` FROM users WHERE chat_id = $1`, chatID))
}

func (s *PGUserStore) Save(ctx context.Context, u *store.User) error {
	cfg, err := json.Marshal(u.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	rt, err := json.Marshal(u.Runtime)
	if err != nil {
		return fmt.Errorf("encode runtime: %w", err)
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (id, chat_id, config, runtime, calendar_refresh_token, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   chat_id = EXCLUDED.chat_id,
		   config = EXCLUDED.config,
		   runtime = EXCLUDED.runtime,
		   calendar_refresh_token = EXCLUDED.calendar_refresh_token,
		   updated_at = EXCLUDED.updated_at`,
		u.ID, u.ChatID, cfg, rt, u.CalendarRefreshToken, u.CreatedAt, u.UpdatedAt,
	)
	return err
}

func (s *PGUserStore) List(ctx context.Context) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userSelectCols+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Contacts exposes the user's runtime contacts to the matcher.
func (s *PGUserStore) Contacts(ctx context.Context, userID string) (map[string]store.Contact, error) {
	u, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Runtime.Contacts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var (
		u       store.User
		cfg, rt []byte
	)
	err := row.Scan(&u.ID, &u.ChatID, &cfg, &rt, &u.CalendarRefreshToken, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &u.Config); err != nil {
		return nil, fmt.Errorf("decode config of %s: %w", u.ID, err)
	}
	if err := json.Unmarshal(rt, &u.Runtime); err != nil {
		return nil, fmt.Errorf("decode runtime of %s: %w", u.ID, err)
	}
	return &u, nil
}
