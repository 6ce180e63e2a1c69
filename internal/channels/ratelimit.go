package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys so rotating
	// source addresses cannot grow the map without bound.
	maxTrackedKeys = 4096

	defaultWebhookWindow  = 60 * time.Second
	defaultWebhookMaxHits = 120
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter is a fixed-window counter per source key (the remote
// address of webhook callers). Safe for concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	maxHits int
	entries map[string]*rateLimitEntry
	now     func() time.Time
}

// NewWebhookRateLimiter allows maxHits requests per key and window. Zero
// values pick 120 per minute.
func NewWebhookRateLimiter(maxHits int, window time.Duration) *WebhookRateLimiter {
	if maxHits <= 0 {
		maxHits = defaultWebhookMaxHits
	}
	if window <= 0 {
		window = defaultWebhookWindow
	}
	return &WebhookRateLimiter{
		window:  window,
		maxHits: maxHits,
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
	}
}

// Allow reports whether key is within its budget and counts the request.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= r.window {
				delete(r.entries, k)
			}
		}
		for k := range r.entries {
			if len(r.entries) < maxTrackedKeys {
				break
			}
			delete(r.entries, k)
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= r.window {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}
	e.count++
	return e.count <= r.maxHits
}

// SendLimiter paces outbound provider calls.
type SendLimiter struct {
	lim *rate.Limiter
}

// NewSendLimiter allows rps sends per second with the given burst. A
// non-positive rps disables pacing.
func NewSendLimiter(rps float64, burst int) *SendLimiter {
	if rps <= 0 {
		return &SendLimiter{lim: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst <= 0 {
		burst = 1
	}
	return &SendLimiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a send may proceed or ctx ends. A nil limiter never
// blocks.
func (l *SendLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.lim.Wait(ctx)
}
