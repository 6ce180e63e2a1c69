package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainsInOrderAndSkipsFailures(t *testing.T) {
	q := NewQueue(8)
	ctx := context.Background()
	for _, id := range []string{"m1", "m2", "boom", "m3", "panic"} {
		require.NoError(t, q.Enqueue(ctx, Job{MessageID: id}))
	}
	q.Close()

	var seen []string
	err := q.Run(ctx, func(_ context.Context, job Job) error {
		seen = append(seen, job.MessageID)
		switch job.MessageID {
		case "boom":
			return errors.New("boom")
		case "panic":
			panic("bad payload")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "boom", "m3", "panic"}, seen)

	st := q.Stats()
	assert.Equal(t, uint64(5), st.Enqueued)
	assert.Equal(t, uint64(3), st.Completed)
	assert.Equal(t, uint64(2), st.Failed)
	assert.Zero(t, st.Depth)
	assert.False(t, st.Running)
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{MessageID: "late"}), ErrQueueClosed)
}

func TestQueue_EnqueueCanceledWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), Job{MessageID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{MessageID: "b"})
	assert.ErrorIs(t, err, ErrEnqueueCanceled)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	handled := make(chan string, 1)
	go func() {
		done <- q.Run(ctx, func(_ context.Context, job Job) error {
			handled <- job.MessageID
			return nil
		})
	}()

	require.NoError(t, q.Enqueue(context.Background(), Job{MessageID: "x"}))
	select {
	case id := <-handled:
		assert.Equal(t, "x", id)
	case <-time.After(time.Second):
		t.Fatal("job not handled")
	}

	require.Eventually(t, func() bool { return q.Stats().Running }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, q.Run(ctx, nil), ErrQueueRunning)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("run did not stop")
	}
}
