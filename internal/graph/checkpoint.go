package graph

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// PendingInterrupt is the one open question of a suspended thread.
type PendingInterrupt struct {
	ID     string   `json:"id"`
	Path   []string `json:"path"`
	Prompt Prompt   `json:"prompt"`
}

// Checkpoint is the durable record of a thread: the last state and the
// pending interrupt, if any.
type Checkpoint struct {
	ThreadID  string            `json:"thread_id"`
	State     json.RawMessage   `json:"state"`
	Pending   *PendingInterrupt `json:"pending,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Checkpointer persists checkpoints keyed by thread id. Get returns
// (nil, nil) for unknown threads.
type Checkpointer interface {
	Get(ctx context.Context, threadID string) (*Checkpoint, error)
	Put(ctx context.Context, cp *Checkpoint) error
	Delete(ctx context.Context, threadID string) error
}

// MemoryCheckpointer keeps checkpoints in process memory.
type MemoryCheckpointer struct {
	mu  sync.RWMutex
	cps map[string]Checkpoint
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{cps: make(map[string]Checkpoint)}
}

func (m *MemoryCheckpointer) Get(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.cps[threadID]
	if !ok {
		return nil, nil
	}
	cp.State = append(json.RawMessage(nil), cp.State...)
	if cp.Pending != nil {
		p := *cp.Pending
		p.Path = append([]string(nil), p.Path...)
		cp.Pending = &p
	}
	return &cp, nil
}

func (m *MemoryCheckpointer) Put(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cp
	c.State = append(json.RawMessage(nil), cp.State...)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	m.cps[cp.ThreadID] = c
	return nil
}

func (m *MemoryCheckpointer) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, threadID)
	return nil
}
