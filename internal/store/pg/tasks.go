package pg

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// PGTaskStore implements store.TaskStore.
type PGTaskStore struct {
	db *sql.DB
}

func NewPGTaskStore(db *sql.DB) *PGTaskStore {
	return &PGTaskStore{db: db}
}

const taskSelectCols = `user_id, item_id, title, description, due, status, completed, focus, parent_id,
	context, location, waiting_on, blocked_by, notes, list_id, position, op_id, created_at, updated_at`

// taskOrder matches the in-memory ordering: position, due (undated last),
// creation time.
const taskOrder = ` ORDER BY position, due ASC NULLS LAST, created_at, item_id`

// Create inserts t. Retrying with the same op id returns the stored task.
func (s *PGTaskStore) Create(ctx context.Context, t *store.Task) (*store.Task, error) {
	if t.ItemID == "" {
		t.ItemID = store.NewItemID(t.UserID, t.OpID)
	}
	if t.Status == "" {
		t.SetStatus(store.StatusOpen)
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskSelectCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (item_id) DO NOTHING`,
		t.UserID, t.ItemID, t.Title, t.Description, nullTime(t.Due), t.Status, t.Completed, t.Focus, t.ParentID,
		t.Context, t.Location, t.WaitingOn, pq.Array(nonNil(t.BlockedBy)), t.Notes, t.ListID, t.Position, t.OpID, now, now,
	)
	if err != nil {
		return nil, err
	}
	stored, err := s.get(ctx, t.ItemID)
	if err != nil {
		return nil, err
	}
	if stored.UserID != t.UserID {
		return nil, store.ErrForbidden
	}
	return stored, nil
}

func (s *PGTaskStore) Update(ctx context.Context, t *store.Task) error {
	if err := checkOwner(ctx, s.db, "tasks", t.UserID, t.ItemID); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = $1, description = $2, due = $3, status = $4, completed = $5, focus = $6,
		   parent_id = $7, context = $8, location = $9, waiting_on = $10, blocked_by = $11, notes = $12,
		   list_id = $13, position = $14, updated_at = $15
		 WHERE item_id = $16`,
		t.Title, t.Description, nullTime(t.Due), t.Status, t.Completed, t.Focus,
		t.ParentID, t.Context, t.Location, t.WaitingOn, pq.Array(nonNil(t.BlockedBy)), t.Notes,
		t.ListID, t.Position, t.UpdatedAt, t.ItemID,
	)
	return err
}

// Delete marks the task deleted; deleted tasks stay queryable by status.
func (s *PGTaskStore) Delete(ctx context.Context, userID, itemID string) error {
	return s.UpdateStatus(ctx, userID, itemID, store.StatusDeleted)
}

func (s *PGTaskStore) UpdateStatus(ctx context.Context, userID, itemID, status string) error {
	if err := checkOwner(ctx, s.db, "tasks", userID, itemID); err != nil {
		return err
	}
	var completed sql.NullBool
	switch status {
	case store.StatusCompleted:
		completed = sql.NullBool{Bool: true, Valid: true}
	case store.StatusOpen, store.StatusPending:
		completed = sql.NullBool{Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, completed = COALESCE($2, completed), updated_at = $3 WHERE item_id = $4`,
		status, completed, time.Now().UTC(), itemID,
	)
	return err
}

func (s *PGTaskStore) Get(ctx context.Context, userID, itemID string) (*store.Task, error) {
	if err := checkOwner(ctx, s.db, "tasks", userID, itemID); err != nil {
		return nil, err
	}
	return s.get(ctx, itemID)
}

func (s *PGTaskStore) get(ctx context.Context, itemID string) (*store.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskSelectCols+` FROM tasks WHERE item_id = $1`, itemID)
	if err != nil {
		return nil, err
	}
	ts, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, store.ErrNotFound
	}
	return &ts[0], nil
}

func (s *PGTaskStore) GetItems(ctx context.Context, userID string, q store.ItemQuery) ([]store.Task, error) {
	f := newItemFilter(userID)
	f.apply(q, "due")
	if q.Focus != "" {
		f.add("focus = ?", q.Focus)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskSelectCols+` FROM tasks WHERE `+f.sql()+taskOrder+` LIMIT `+strconv.Itoa(q.EffectiveLimit()),
		f.args...)
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func (s *PGTaskStore) QueryTasksDue(ctx context.Context, userID string, before time.Time) ([]store.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskSelectCols+` FROM tasks
		 WHERE user_id = $1 AND due IS NOT NULL AND due <= $2 AND status IN ('open', 'pending')`+taskOrder,
		userID, before.UTC())
	if err != nil {
		return nil, err
	}
	return scanTasks(rows)
}

func scanTasks(rows *sql.Rows) ([]store.Task, error) {
	defer rows.Close()
	var out []store.Task
	for rows.Next() {
		var (
			t   store.Task
			due sql.NullTime
		)
		if err := rows.Scan(&t.UserID, &t.ItemID, &t.Title, &t.Description, &due, &t.Status, &t.Completed,
			&t.Focus, &t.ParentID, &t.Context, &t.Location, &t.WaitingOn, pq.Array(&t.BlockedBy), &t.Notes,
			&t.ListID, &t.Position, &t.OpID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Due = timePtr(due)
		out = append(out, t)
	}
	return out, rows.Err()
}

// nonNil keeps NOT NULL array columns from receiving NULL.
func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
