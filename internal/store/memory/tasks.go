package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*store.Task // item id -> task
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*store.Task)}
}

func (s *TaskStore) Create(_ context.Context, t *store.Task) (*store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ItemID == "" {
		t.ItemID = store.NewItemID(t.UserID, t.OpID)
	}
	if existing, ok := s.tasks[t.ItemID]; ok {
		if existing.UserID != t.UserID {
			return nil, store.ErrForbidden
		}
		cp := cloneTask(existing)
		return &cp, nil
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	if t.Status == "" {
		t.SetStatus(store.StatusOpen)
	}
	cp := cloneTask(t)
	s.tasks[t.ItemID] = &cp
	out := cloneTask(t)
	return &out, nil
}

func (s *TaskStore) owned(userID, itemID string) (*store.Task, error) {
	t, ok := s.tasks[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if t.UserID != userID {
		return nil, store.ErrForbidden
	}
	return t, nil
}

func (s *TaskStore) Update(_ context.Context, t *store.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.owned(t.UserID, t.ItemID)
	if err != nil {
		return err
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	cp := cloneTask(t)
	s.tasks[t.ItemID] = &cp
	return nil
}

// Delete marks the task deleted; deleted tasks stay queryable by status.
func (s *TaskStore) Delete(ctx context.Context, userID, itemID string) error {
	return s.UpdateStatus(ctx, userID, itemID, store.StatusDeleted)
}

func (s *TaskStore) UpdateStatus(_ context.Context, userID, itemID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.owned(userID, itemID)
	if err != nil {
		return err
	}
	t.SetStatus(status)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *TaskStore) Get(_ context.Context, userID, itemID string) (*store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.owned(userID, itemID)
	if err != nil {
		return nil, err
	}
	cp := cloneTask(t)
	return &cp, nil
}

func (s *TaskStore) GetItems(_ context.Context, userID string, q store.ItemQuery) ([]store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Task
	for _, t := range s.tasks {
		if t.UserID != userID || !q.MatchStatus(t.Status) || !q.InRange(t.Due) {
			continue
		}
		if q.Focus != "" && t.Focus != q.Focus {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sortTasks(out)
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *TaskStore) QueryTasksDue(_ context.Context, userID string, before time.Time) ([]store.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Task
	for _, t := range s.tasks {
		if t.UserID != userID || t.Due == nil || t.Due.After(before) {
			continue
		}
		if t.Status != store.StatusOpen && t.Status != store.StatusPending {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sortTasks(out)
	return out, nil
}

// sortTasks orders by position, then due date (undated last), then creation.
func sortTasks(ts []store.Task) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		switch {
		case a.Due != nil && b.Due == nil:
			return true
		case a.Due == nil && b.Due != nil:
			return false
		case a.Due != nil && b.Due != nil && !a.Due.Equal(*b.Due):
			return a.Due.Before(*b.Due)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ItemID < b.ItemID
	})
}

func cloneTask(t *store.Task) store.Task {
	cp := *t
	if t.Due != nil {
		d := *t.Due
		cp.Due = &d
	}
	cp.BlockedBy = append([]string(nil), t.BlockedBy...)
	return cp
}
