package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMessageIndex_TTL(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	idx := NewMessageIndex(48 * time.Hour)
	idx.now = clk.now

	idx.Put("wamid.1", []byte(`{"text":"hi"}`))
	e, ok := idx.Get("wamid.1")
	require.True(t, ok)
	assert.JSONEq(t, `{"text":"hi"}`, string(e.Payload))

	clk.advance(47 * time.Hour)
	assert.True(t, idx.Seen("wamid.1"))

	clk.advance(time.Hour)
	assert.False(t, idx.Seen("wamid.1"))
}

func TestMessageIndex_GC(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	idx := NewMessageIndex(time.Hour)
	idx.now = clk.now
	idx.Put("a", nil)
	clk.advance(30 * time.Minute)
	idx.Put("b", nil)
	clk.advance(31 * time.Minute)

	assert.Equal(t, 1, idx.GC())
	assert.Equal(t, 1, idx.Len())
}

func TestDedupeCache_MarkAndSeen(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	d := NewDedupeCache(time.Hour)
	d.now = clk.now

	seen, _ := d.Seen(ctx, "k")
	assert.False(t, seen)
	seen, _ = d.Seen(ctx, "k")
	assert.False(t, seen, "Seen must not write")

	require.NoError(t, d.Mark(ctx, "k"))
	seen, _ = d.Seen(ctx, "k")
	assert.True(t, seen)

	clk.advance(time.Hour)
	seen, _ = d.Seen(ctx, "k")
	assert.False(t, seen)

	fresh, _ := d.MarkIfNew(ctx, "k2")
	require.True(t, fresh)
	require.NoError(t, d.Forget(ctx, "k2"))
	fresh, _ = d.MarkIfNew(ctx, "k2")
	assert.True(t, fresh, "forgotten keys are accepted again")
}

func TestDedupeCache_MarkIfNewConcurrent(t *testing.T) {
	ctx := context.Background()
	d := NewDedupeCache(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := d.MarkIfNew(ctx, "same"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRunGC_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunGC(ctx, time.Millisecond, NewDedupeCache(time.Hour))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunGC did not stop")
	}
}
