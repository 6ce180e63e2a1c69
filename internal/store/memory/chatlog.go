package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gaddyh/tami2-ai-sub000/internal/store"
)

const maxChatLog = 500

// ChatLogStore keeps the newest maxChatLog messages per chat.
type ChatLogStore struct {
	mu    sync.RWMutex
	chats map[string][]store.ChatMessage
}

func NewChatLogStore() *ChatLogStore {
	return &ChatLogStore{chats: make(map[string][]store.ChatMessage)}
}

func (s *ChatLogStore) Append(_ context.Context, m store.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := append(s.chats[m.ChatID], m)
	if len(log) > maxChatLog {
		log = log[len(log)-maxChatLog:]
	}
	s.chats[m.ChatID] = log
	return nil
}

// Recent returns up to limit messages, oldest first.
func (s *ChatLogStore) Recent(_ context.Context, chatID string, limit int) ([]store.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.chats[chatID]
	if limit > 0 && len(log) > limit {
		log = log[len(log)-limit:]
	}
	return append([]store.ChatMessage(nil), log...), nil
}

type WaitlistStore struct {
	mu      sync.Mutex
	entries map[string]*store.WaitlistEntry
}

func NewWaitlistStore() *WaitlistStore {
	return &WaitlistStore{entries: make(map[string]*store.WaitlistEntry)}
}

func (s *WaitlistStore) Get(_ context.Context, chatID string) (*store.WaitlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *WaitlistStore) Put(_ context.Context, e *store.WaitlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	cp := *e
	s.entries[e.ChatID] = &cp
	return nil
}

// NewStores wires a full in-memory store set.
func NewStores() *store.Stores {
	return &store.Stores{
		Users:     NewUserStore(),
		Tasks:     NewTaskStore(),
		Scheduled: NewScheduledStore(),
		Reminders: NewReminderStore(),
		ChatLog:   NewChatLogStore(),
		Waitlist:  NewWaitlistStore(),
	}
}
