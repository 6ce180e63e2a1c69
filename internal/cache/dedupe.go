package cache

import (
	"context"
	"sync"
	"time"
)

// Deduper remembers idempotency keys for a TTL.
type Deduper interface {
	// Seen reports whether key was marked within the TTL. It never writes.
	Seen(ctx context.Context, key string) (bool, error)
	// Mark records key as seen now.
	Mark(ctx context.Context, key string) error
	// MarkIfNew atomically marks key and reports whether it was new.
	MarkIfNew(ctx context.Context, key string) (bool, error)
	// Forget drops key so a later delivery is accepted again.
	Forget(ctx context.Context, key string) error
}

// DedupeCache is the in-process Deduper.
type DedupeCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewDedupeCache(ttl time.Duration) *DedupeCache {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &DedupeCache{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *DedupeCache) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked(key), nil
}

func (d *DedupeCache) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[key] = d.now()
	return nil
}

func (d *DedupeCache) MarkIfNew(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.liveLocked(key) {
		return false, nil
	}
	d.seen[key] = d.now()
	return true, nil
}

func (d *DedupeCache) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

func (d *DedupeCache) liveLocked(key string) bool {
	at, ok := d.seen[key]
	if !ok {
		return false
	}
	if d.now().Sub(at) >= d.ttl {
		delete(d.seen, key)
		return false
	}
	return true
}

// GC drops expired keys.
func (d *DedupeCache) GC() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	n := 0
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
			n++
		}
	}
	return n
}
