// Package cache holds the TTL'd message index and the webhook dedupe cache.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Default TTLs.
const (
	DefaultIndexTTL  = 48 * time.Hour
	DefaultDedupeTTL = time.Hour
)

// IndexEntry is a raw inbound payload remembered by message id.
type IndexEntry struct {
	SeenAt  time.Time       `json:"seen_at"`
	Payload json.RawMessage `json:"payload"`
}

// MessageIndex maps message ids to raw payloads so quoted messages can be
// hydrated later. Safe for concurrent use.
type MessageIndex struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]IndexEntry
	now     func() time.Time
}

func NewMessageIndex(ttl time.Duration) *MessageIndex {
	if ttl <= 0 {
		ttl = DefaultIndexTTL
	}
	return &MessageIndex{ttl: ttl, entries: make(map[string]IndexEntry), now: time.Now}
}

// Put records payload under id, replacing any previous entry.
func (x *MessageIndex) Put(id string, payload []byte) {
	if id == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries[id] = IndexEntry{SeenAt: x.now(), Payload: append(json.RawMessage(nil), payload...)}
}

// Get returns the live entry for id.
func (x *MessageIndex) Get(id string) (IndexEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[id]
	if !ok {
		return IndexEntry{}, false
	}
	if x.now().Sub(e.SeenAt) >= x.ttl {
		delete(x.entries, id)
		return IndexEntry{}, false
	}
	return e, true
}

// Seen reports whether id has a live entry.
func (x *MessageIndex) Seen(id string) bool {
	_, ok := x.Get(id)
	return ok
}

// GC drops expired entries and returns how many were removed.
func (x *MessageIndex) GC() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	now := x.now()
	n := 0
	for id, e := range x.entries {
		if now.Sub(e.SeenAt) >= x.ttl {
			delete(x.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired ones included.
func (x *MessageIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Collector is anything with a GC pass.
type Collector interface {
	GC() int
}

// RunGC calls GC on every collector each interval until ctx is done.
func RunGC(ctx context.Context, interval time.Duration, collectors ...Collector) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, c := range collectors {
				if n := c.GC(); n > 0 {
					slog.Debug("cache gc", "removed", n)
				}
			}
		}
	}
}
