package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

type ReminderStore struct {
	mu    sync.RWMutex
	items map[string]*store.Reminder
}

func NewReminderStore() *ReminderStore {
	return &ReminderStore{items: make(map[string]*store.Reminder)}
}

func (s *ReminderStore) CreateReminder(_ context.Context, r *store.Reminder) (*store.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ItemID == "" {
		r.ItemID = store.NewItemID(r.UserID, r.OpID)
	}
	if existing, ok := s.items[r.ItemID]; ok {
		if existing.UserID != r.UserID {
			return nil, store.ErrForbidden
		}
		cp := *existing
		return &cp, nil
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	r.ScheduledTime = r.ScheduledTime.UTC()
	if r.Status == "" {
		r.Status = store.StatusOpen
	}
	cp := *r
	s.items[r.ItemID] = &cp
	out := *r
	return &out, nil
}

func (s *ReminderStore) owned(userID, itemID string) (*store.Reminder, error) {
	r, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.UserID != userID {
		return nil, store.ErrForbidden
	}
	return r, nil
}

func (s *ReminderStore) UpdateReminder(_ context.Context, r *store.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.owned(r.UserID, r.ItemID)
	if err != nil {
		return err
	}
	r.CreatedAt = cur.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r.ScheduledTime = r.ScheduledTime.UTC()
	cp := *r
	s.items[r.ItemID] = &cp
	return nil
}

func (s *ReminderStore) DeleteReminder(_ context.Context, userID, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.owned(userID, itemID)
	if err != nil {
		return err
	}
	r.Status = store.StatusDeleted
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *ReminderStore) GetReminder(_ context.Context, userID, itemID string) (*store.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.owned(userID, itemID)
	if err != nil {
		return nil, err
	}
	cp := *r
	return &cp, nil
}

func (s *ReminderStore) GetItems(_ context.Context, userID string, q store.ItemQuery) ([]store.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Reminder
	for _, r := range s.items {
		t := r.ScheduledTime
		if r.UserID != userID || !q.MatchStatus(r.Status) || !q.InRange(&t) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ReminderStore) Due(_ context.Context, from, to time.Time, maxRetries int) ([]store.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Reminder
	for _, r := range s.items {
		if !dueStatus(r.Status) || r.RetryCount >= maxRetries {
			continue
		}
		if r.ScheduledTime.Before(from) || r.ScheduledTime.After(to) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}
