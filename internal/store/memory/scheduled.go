package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

type ScheduledStore struct {
	mu    sync.RWMutex
	items map[string]*store.ScheduledMessage
}

func NewScheduledStore() *ScheduledStore {
	return &ScheduledStore{items: make(map[string]*store.ScheduledMessage)}
}

func (s *ScheduledStore) Save(_ context.Context, m *store.ScheduledMessage) (*store.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ItemID == "" {
		m.ItemID = store.NewItemID(m.UserID, m.OpID)
	}
	if existing, ok := s.items[m.ItemID]; ok {
		if existing.UserID != m.UserID {
			return nil, store.ErrForbidden
		}
		cp := *existing
		return &cp, nil
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	m.ScheduledTime = m.ScheduledTime.UTC()
	if m.Status == "" {
		m.Status = store.StatusOpen
	}
	cp := *m
	s.items[m.ItemID] = &cp
	out := *m
	return &out, nil
}

func (s *ScheduledStore) owned(userID, itemID string) (*store.ScheduledMessage, error) {
	m, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if m.UserID != userID {
		return nil, store.ErrForbidden
	}
	return m, nil
}

func (s *ScheduledStore) Update(_ context.Context, m *store.ScheduledMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.owned(m.UserID, m.ItemID)
	if err != nil {
		return err
	}
	m.CreatedAt = cur.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	m.ScheduledTime = m.ScheduledTime.UTC()
	cp := *m
	s.items[m.ItemID] = &cp
	return nil
}

func (s *ScheduledStore) Get(_ context.Context, userID, itemID string) (*store.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, err := s.owned(userID, itemID)
	if err != nil {
		return nil, err
	}
	cp := *m
	return &cp, nil
}

func (s *ScheduledStore) Delete(ctx context.Context, userID, itemID string) error {
	return s.UpdateStatus(ctx, userID, itemID, store.StatusDeleted)
}

func (s *ScheduledStore) UpdateStatus(_ context.Context, userID, itemID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.owned(userID, itemID)
	if err != nil {
		return err
	}
	m.Status = status
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *ScheduledStore) GetItems(_ context.Context, userID string, q store.ItemQuery) ([]store.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ScheduledMessage
	for _, m := range s.items {
		t := m.ScheduledTime
		if m.UserID != userID || !q.MatchStatus(m.Status) || !q.InRange(&t) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ScheduledStore) Due(_ context.Context, from, to time.Time, maxRetries int) ([]store.ScheduledMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ScheduledMessage
	for _, m := range s.items {
		if !dueStatus(m.Status) || m.RetryCount >= maxRetries {
			continue
		}
		if m.ScheduledTime.Before(from) || m.ScheduledTime.After(to) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out, nil
}

func dueStatus(status string) bool {
	return status == store.StatusOpen || status == store.StatusPending || status == store.StatusFailed
}
