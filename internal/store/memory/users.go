// Package memory provides in-process implementations of the store ports,
// used by standalone mode, the chat REPL and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

// UserStore keeps users in a map. Records are deep-copied on the way in and
// out so callers never share mutable state with the store.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]*store.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*store.User)}
}

func (s *UserStore) Load(_ context.Context, userID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) Save(_ context.Context, u *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	s.users[u.ID] = cloneUser(u)
	return nil
}

func (s *UserStore) FindByChatID(_ context.Context, chatID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ChatID == chatID {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *UserStore) List(_ context.Context) ([]*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Contacts exposes the user's runtime contacts to the matcher.
func (s *UserStore) Contacts(ctx context.Context, userID string) (map[string]store.Contact, error) {
	u, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return u.Runtime.Contacts, nil
}

func cloneUser(u *store.User) *store.User {
	data, _ := json.Marshal(u)
	var cp store.User
	_ = json.Unmarshal(data, &cp)
	return &cp
}
