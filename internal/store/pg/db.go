// Package pg implements the store ports on Postgres through database/sql
// and the pgx stdlib driver. The schema lives in migrations/.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// OpenDB opens a pooled connection and checks it.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPGStores wires every store on one pool.
func NewPGStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Users:     NewPGUserStore(db),
		Tasks:     NewPGTaskStore(db),
		Scheduled: NewPGScheduledStore(db),
		Reminders: NewPGReminderStore(db),
		ChatLog:   NewPGChatLogStore(db),
		Waitlist:  NewPGWaitlistStore(db),
	}
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// checkOwner maps a missing row to store.ErrNotFound and a row owned by
// someone else to store.ErrForbidden.
func checkOwner(ctx context.Context, q queryer, table, userID, itemID string) error {
	var owner string
	err := q.QueryRowContext(ctx, `SELECT user_id FROM `+table+` WHERE item_id = $1`, itemID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return store.ErrForbidden
	}
	return nil
}

// itemFilter builds the WHERE clause shared by list queries. timeCol is
// the column the From/To window applies to.
type itemFilter struct {
	where []string
	args  []any
}

func newItemFilter(userID string) *itemFilter {
	return &itemFilter{where: []string{"user_id = $1"}, args: []any{userID}}
}

func (f *itemFilter) add(cond string, arg any) {
	f.args = append(f.args, arg)
	f.where = append(f.where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(f.args))))
}

func (f *itemFilter) apply(q store.ItemQuery, timeCol string) {
	switch q.Status {
	case store.StatusAll:
	case "":
		f.add("status <> ?", store.StatusDeleted)
	default:
		f.add("status = ?", q.Status)
	}
	if q.From != nil {
		f.add(timeCol+" >= ?", q.From.UTC())
	}
	if q.To != nil {
		f.add(timeCol+" <= ?", q.To.UTC())
	}
}

func (f *itemFilter) sql() string {
	return strings.Join(f.where, " AND ")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
